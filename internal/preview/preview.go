package preview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Options scope a preview execution to a project and deployed manifest.
type Options struct {
	ProjectID  int
	ManifestID string
	Limit      int
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type Result struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Runner executes SQL against the live data source for row previews.
type Runner interface {
	Preview(ctx context.Context, sql string, opts Options) (*Result, error)
}

// HTTPRunner forwards previews to the query engine's HTTP endpoint.
type HTTPRunner struct {
	url    string
	client *http.Client
}

func NewHTTPRunner(engineURL string) *HTTPRunner {
	return &HTTPRunner{
		url: strings.TrimRight(strings.TrimSpace(engineURL), "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (r *HTTPRunner) Preview(ctx context.Context, sql string, opts Options) (*Result, error) {
	body := map[string]any{
		"sql":         sql,
		"project_id":  strconv.Itoa(opts.ProjectID),
		"manifest_id": opts.ManifestID,
		"limit":       opts.Limit,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/v1/previews", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("engine http status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode preview response: %w", err)
	}
	return &out, nil
}
