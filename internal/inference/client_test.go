package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucamorandi/genbi/internal/task"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestSubmitAskWireFormat(t *testing.T) {
	var captured map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/asks" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"query_id": "abc-123"})
	})

	id, err := c.SubmitAsk(context.Background(), AskRequest{
		Query:     "total sales?",
		ProjectID: "42",
		ThreadID:  "7",
		Histories: []AskHistory{{Question: "prior", SQL: "SELECT 1"}},
	})
	if err != nil {
		t.Fatalf("SubmitAsk: %v", err)
	}
	if id != "abc-123" {
		t.Fatalf("query id = %q", id)
	}
	if captured["query"] != "total sales?" {
		t.Errorf("query field = %v", captured["query"])
	}
	// ids are decimal strings on the wire, never numbers
	if v, ok := captured["project_id"].(string); !ok || v != "42" {
		t.Errorf("project_id = %#v, want string \"42\"", captured["project_id"])
	}
	if v, ok := captured["thread_id"].(string); !ok || v != "7" {
		t.Errorf("thread_id = %#v, want string \"7\"", captured["thread_id"])
	}
	if _, ok := captured["histories"]; !ok {
		t.Errorf("histories missing from payload: %v", captured)
	}
}

func TestSubmitMissingQueryID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	_, err := c.SubmitAsk(context.Background(), AskRequest{Query: "q"})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestFetchAskResultNormalizesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/asks/q1/result" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "generating",
			"response": []map[string]string{{"sql": "SELECT 1"}},
		})
	})

	res, err := c.FetchAskResult(context.Background(), "q1")
	if err != nil {
		t.Fatalf("FetchAskResult: %v", err)
	}
	if res.Status != task.StatusGenerating {
		t.Fatalf("status = %s, want GENERATING", res.Status)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].SQL != "SELECT 1" {
		t.Fatalf("candidates = %+v", res.Candidates)
	}
}

func TestFetchAskResultUnknownStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "daydreaming"})
	})
	if _, err := c.FetchAskResult(context.Background(), "q1"); err == nil {
		t.Fatalf("unknown status must be an error, not a silent default")
	}
}

func TestRemoteErrorDetailExtraction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "NO_RELEVANT_DATA",
			"message": "the question does not match any model",
		})
	})

	_, err := c.SubmitAsk(context.Background(), AskRequest{Query: "q"})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status code = %d", remote.StatusCode)
	}
	if remote.Code != "NO_RELEVANT_DATA" {
		t.Errorf("code = %q", remote.Code)
	}
	if !strings.Contains(remote.Detail, "does not match") {
		t.Errorf("detail = %q", remote.Detail)
	}
}

func TestCancelAskSendsStoppedPatch(t *testing.T) {
	var method, path string
	var body map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.CancelAsk(context.Background(), "q9"); err != nil {
		t.Fatalf("CancelAsk: %v", err)
	}
	if method != http.MethodPatch || path != "/v1/asks/q9" {
		t.Errorf("unexpected request %s %s", method, path)
	}
	if body["status"] != "stopped" {
		t.Errorf("cancel payload = %v, want lower-case stopped", body)
	}
}

func TestStreamAnswerExtractsMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/streaming-result") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte("data: {\"message\":\"Revenue \"}\n\ndata: {\"message\":\"is up.\"}\n"))
	})

	var got strings.Builder
	err := c.StreamAnswer(context.Background(), "q1", func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamAnswer: %v", err)
	}
	if got.String() != "Revenue is up." {
		t.Fatalf("streamed text = %q", got.String())
	}
}

func TestWaitForDeployImmediateTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/semantics-preparations/d1/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "finished"})
	})

	res := c.WaitForDeploy(context.Background(), "d1")
	if res.Status != task.StatusFinished || res.Error != "" {
		t.Fatalf("deploy result = %+v", res)
	}
}

func TestWaitForDeployFailureCarriesError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "mdl invalid"})
	})

	res := c.WaitForDeploy(context.Background(), "d1")
	if res.Status != task.StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Error != "mdl invalid" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestWaitForDeployCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "indexing"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.WaitForDeploy(ctx, "d1")
	if res.Status != task.StatusFailed {
		t.Fatalf("cancelled wait must return a failed result, got %+v", res)
	}
}

func TestDeployFallsBackToHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/semantics-preparations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["mdl"]; !ok {
			t.Errorf("payload missing mdl: %v", body)
		}
		if body["mdl_hash"] != "hash-1" {
			t.Errorf("payload mdl_hash = %v", body["mdl_hash"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})

	id, err := c.Deploy(context.Background(), DeployRequest{
		Manifest: json.RawMessage(`{"models":[]}`),
		Hash:     "hash-1",
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if id != "hash-1" {
		t.Fatalf("deploy id = %q, want the mdl hash fallback", id)
	}
}
