package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lucamorandi/genbi/internal/asking"
	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/inference"
	"github.com/lucamorandi/genbi/internal/preview"
	"github.com/lucamorandi/genbi/internal/task"
)

// stubAI satisfies both the orchestration client and the knowledge
// passthrough surface with programmable results.
type stubAI struct {
	submitID     string
	submitErr    error
	deployResult inference.DeployResult
	sqlPairs     []inference.SQLPair
}

func (s *stubAI) SubmitAsk(context.Context, inference.AskRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) CancelAsk(context.Context, string) error { return nil }
func (s *stubAI) FetchAskResult(context.Context, string) (inference.AskResult, error) {
	return inference.AskResult{Status: task.StatusGenerating}, nil
}
func (s *stubAI) SubmitBreakdown(context.Context, inference.BreakdownRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchBreakdownResult(context.Context, string) (inference.BreakdownResult, error) {
	return inference.BreakdownResult{Status: task.StatusGenerating}, nil
}
func (s *stubAI) SubmitAnswer(context.Context, inference.AnswerRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchAnswerResult(context.Context, string) (inference.AnswerResult, error) {
	return inference.AnswerResult{Status: task.StatusPreprocessing}, nil
}
func (s *stubAI) StreamAnswer(_ context.Context, _ string, onDelta inference.DeltaHandler) error {
	return onDelta("answer text")
}
func (s *stubAI) SubmitChart(context.Context, inference.ChartRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchChartResult(context.Context, string) (inference.ChartResult, error) {
	return inference.ChartResult{Status: task.StatusFetching}, nil
}
func (s *stubAI) SubmitChartAdjustment(context.Context, inference.ChartAdjustmentRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchChartAdjustmentResult(context.Context, string) (inference.ChartResult, error) {
	return inference.ChartResult{Status: task.StatusFetching}, nil
}
func (s *stubAI) SubmitRecommendations(context.Context, inference.RecommendationRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchRecommendationResult(context.Context, string) (inference.RecommendationResult, error) {
	return inference.RecommendationResult{Status: task.StatusGenerating}, nil
}
func (s *stubAI) SubmitFeedback(context.Context, inference.FeedbackRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchFeedbackResult(context.Context, string) (inference.FeedbackResult, error) {
	return inference.FeedbackResult{Status: task.StatusUnderstanding}, nil
}
func (s *stubAI) CreateSQLPair(_ context.Context, pair inference.SQLPair) error {
	s.sqlPairs = append(s.sqlPairs, pair)
	return nil
}
func (s *stubAI) CreateInstruction(context.Context, inference.Instruction) error { return nil }
func (s *stubAI) SubmitSQLQuestions(context.Context, inference.SQLQuestionsRequest) (string, error) {
	return s.submitID, s.submitErr
}
func (s *stubAI) FetchSQLQuestionsResult(context.Context, string) (inference.SQLQuestionsResult, error) {
	return inference.SQLQuestionsResult{Status: task.StatusFinished, Questions: []string{"what changed?"}}, nil
}
func (s *stubAI) Deploy(context.Context, inference.DeployRequest) (string, error) {
	return "d1", s.submitErr
}
func (s *stubAI) WaitForDeploy(context.Context, string) inference.DeployResult {
	return s.deployResult
}

// stubRunner records the options of the last preview it ran.
type stubRunner struct {
	lastSQL  string
	lastOpts preview.Options
}

func (r *stubRunner) Preview(_ context.Context, sql string, opts preview.Options) (*preview.Result, error) {
	r.lastSQL = sql
	r.lastOpts = opts
	return &preview.Result{Columns: []preview.Column{{Name: "n"}}, Rows: [][]any{{1}}}, nil
}

func newTestServer(t *testing.T) (*Server, *stubAI) {
	srv, ai, _ := newTestServerWithRunner(t)
	return srv, ai
}

func newTestServerWithRunner(t *testing.T) (*Server, *stubAI, *stubRunner) {
	t.Helper()
	ai := &stubAI{
		submitID:     "task-1",
		deployResult: inference.DeployResult{Status: task.StatusFinished},
	}
	store := conversation.NewInMemoryStore()
	bindings := task.NewInMemoryBindingStore()
	runner := &stubRunner{}
	svc := asking.New(asking.Config{}, ai, store, bindings, runner, nil, nil)
	return New(svc, ai, nil), ai, runner
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

func TestThreadLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/threads", map[string]any{
		"question":   "total sales by month?",
		"project_id": 3,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create thread = %d: %s", rec.Code, rec.Body.String())
	}
	var created threadDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Thread.Summary != "total sales by month?" || len(created.Responses) != 1 {
		t.Fatalf("unexpected create payload: %+v", created)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/threads/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get thread = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPatch, "/v1/threads/1", map[string]string{"summary": "sales"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch thread = %d: %s", rec.Code, rec.Body.String())
	}
	var patched conversation.Thread
	_ = json.Unmarshal(rec.Body.Bytes(), &patched)
	if patched.Summary != "sales" {
		t.Fatalf("summary = %q", patched.Summary)
	}

	rec = doJSON(t, router, http.MethodDelete, "/v1/threads/1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete thread = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/v1/threads/1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted thread lookup = %d, want 404", rec.Code)
	}
}

func TestAdjustWithSQLEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/threads", map[string]any{"question": "q"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create thread = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/thread-responses/1/adjust/sql", map[string]string{"sql": "SELECT 2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust sql = %d: %s", rec.Code, rec.Body.String())
	}
	var created conversation.ThreadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 1 || created.Adjustment == nil || created.Adjustment.OriginalResponseID != 1 {
		t.Fatalf("unexpected adjustment response: %+v", created)
	}
}

func TestResponseNotFoundMapsTo404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/v1/thread-responses/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing response = %d, want 404", rec.Code)
	}
}

func TestRemoteFailureMapsToBadGateway(t *testing.T) {
	srv, ai := newTestServer(t)
	ai.submitErr = &inference.RemoteError{StatusCode: http.StatusInternalServerError, Detail: "model down"}

	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/asks", map[string]any{"question": "q"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("remote failure = %d, want 502: %s", rec.Code, rec.Body.String())
	}
}

func TestDeployEndpoint(t *testing.T) {
	srv, ai := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/deploys", map[string]any{
		"mdl":      map[string]any{"models": []string{}},
		"mdl_hash": "hash-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deploy = %d: %s", rec.Code, rec.Body.String())
	}

	ai.deployResult = inference.DeployResult{Status: task.StatusFailed, Error: "timed out"}
	rec = doJSON(t, router, http.MethodPost, "/v1/deploys", map[string]any{
		"mdl":      map[string]any{},
		"mdl_hash": "hash-2",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed deploy = %d, want 502", rec.Code)
	}
}

func TestPreviewCarriesDeployedManifest(t *testing.T) {
	srv, _, runner := newTestServerWithRunner(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/deploys", map[string]any{
		"mdl":      map[string]any{"models": []string{}},
		"mdl_hash": "hash-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deploy = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/threads", map[string]any{"question": "q"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create thread = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/v1/thread-responses/1/adjust/sql", map[string]string{"sql": "SELECT 2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust sql = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/thread-responses/2/preview", map[string]any{"limit": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d: %s", rec.Code, rec.Body.String())
	}
	if runner.lastOpts.ManifestID != "d1" {
		t.Fatalf("preview manifest id = %q, want the deployed id", runner.lastOpts.ManifestID)
	}
	if runner.lastSQL != "SELECT 2" || runner.lastOpts.Limit != 10 {
		t.Fatalf("unexpected preview call: sql=%q opts=%+v", runner.lastSQL, runner.lastOpts)
	}
}

func TestSQLPairPassthrough(t *testing.T) {
	srv, ai := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/v1/sql-pairs", map[string]any{
		"question":   "total sales?",
		"sql":        "SELECT sum(amount) FROM sales",
		"project_id": 12,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("sql pair = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ai.sqlPairs) != 1 || ai.sqlPairs[0].ProjectID != "12" {
		t.Fatalf("pair not forwarded with decimal-string id: %+v", ai.sqlPairs)
	}
}
