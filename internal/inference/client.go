package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucamorandi/genbi/internal/task"
)

const (
	deployWaitBase     = time.Second
	deployWaitAttempts = 7
)

// Client talks to the external AI service. Every long-running operation is
// submitted once and returns an opaque query id; status and result are
// retrieved later by polling the matching result endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// DeltaHandler receives streamed answer fragments as they arrive.
type DeltaHandler func(delta string) error

func (c *Client) SubmitAsk(ctx context.Context, req AskRequest) (string, error) {
	return c.submit(ctx, "/v1/asks", req)
}

func (c *Client) CancelAsk(ctx context.Context, queryID string) error {
	body := map[string]string{"status": task.StatusStopped.Wire()}
	return c.do(ctx, http.MethodPatch, "/v1/asks/"+queryID, body, nil)
}

func (c *Client) FetchAskResult(ctx context.Context, queryID string) (AskResult, error) {
	var raw struct {
		Status   string         `json:"status"`
		Error    *ResultError   `json:"error"`
		Response []AskCandidate `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/asks/"+queryID+"/result", nil, &raw); err != nil {
		return AskResult{}, err
	}
	status, err := task.Parse(task.KindAsking, raw.Status)
	if err != nil {
		return AskResult{}, err
	}
	return AskResult{Status: status, Error: raw.Error, Candidates: raw.Response}, nil
}

func (c *Client) SubmitBreakdown(ctx context.Context, req BreakdownRequest) (string, error) {
	return c.submit(ctx, "/v1/ask-details", req)
}

func (c *Client) FetchBreakdownResult(ctx context.Context, queryID string) (BreakdownResult, error) {
	var raw struct {
		Status   string       `json:"status"`
		Error    *ResultError `json:"error"`
		Response *struct {
			Description string          `json:"description"`
			Steps       []BreakdownStep `json:"steps"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/ask-details/"+queryID+"/result", nil, &raw); err != nil {
		return BreakdownResult{}, err
	}
	status, err := task.Parse(task.KindBreakdown, raw.Status)
	if err != nil {
		return BreakdownResult{}, err
	}
	out := BreakdownResult{Status: status, Error: raw.Error}
	if raw.Response != nil {
		out.Description = raw.Response.Description
		out.Steps = raw.Response.Steps
	}
	return out, nil
}

func (c *Client) SubmitAnswer(ctx context.Context, req AnswerRequest) (string, error) {
	return c.submit(ctx, "/v1/sql-answers", req)
}

func (c *Client) FetchAnswerResult(ctx context.Context, queryID string) (AnswerResult, error) {
	var raw struct {
		Status      string       `json:"status"`
		Error       *ResultError `json:"error"`
		NumRowsUsed int          `json:"num_rows_used"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sql-answers/"+queryID+"/result", nil, &raw); err != nil {
		return AnswerResult{}, err
	}
	status, err := task.Parse(task.KindAnswer, raw.Status)
	if err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Status: status, Error: raw.Error, NumRowsUsed: raw.NumRowsUsed}, nil
}

// StreamAnswer consumes the streaming-result endpoint line by line and hands
// each text fragment to onDelta until the stream ends.
func (c *Client) StreamAnswer(ctx context.Context, queryID string, onDelta DeltaHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/sql-answers/"+queryID+"/streaming-result", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return remoteErrorFromBody(res.StatusCode, res.Body)
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		delta := line
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err == nil && obj.Message != "" {
			delta = obj.Message
		}
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

func (c *Client) SubmitChart(ctx context.Context, req ChartRequest) (string, error) {
	return c.submit(ctx, "/v1/charts", req)
}

func (c *Client) CancelChart(ctx context.Context, queryID string) error {
	body := map[string]string{"status": task.StatusStopped.Wire()}
	return c.do(ctx, http.MethodPatch, "/v1/charts/"+queryID, body, nil)
}

func (c *Client) FetchChartResult(ctx context.Context, queryID string) (ChartResult, error) {
	return c.fetchChartFamily(ctx, task.KindChart, "/v1/charts/"+queryID+"/result")
}

func (c *Client) SubmitChartAdjustment(ctx context.Context, req ChartAdjustmentRequest) (string, error) {
	return c.submit(ctx, "/v1/chart-adjustments", req)
}

func (c *Client) FetchChartAdjustmentResult(ctx context.Context, queryID string) (ChartResult, error) {
	return c.fetchChartFamily(ctx, task.KindChartAdjustment, "/v1/chart-adjustments/"+queryID+"/result")
}

func (c *Client) fetchChartFamily(ctx context.Context, kind task.Kind, path string) (ChartResult, error) {
	var raw struct {
		Status   string       `json:"status"`
		Error    *ResultError `json:"error"`
		Response *struct {
			Reasoning   string          `json:"reasoning"`
			ChartType   string          `json:"chart_type"`
			ChartSchema json.RawMessage `json:"chart_schema"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return ChartResult{}, err
	}
	status, err := task.Parse(kind, raw.Status)
	if err != nil {
		return ChartResult{}, err
	}
	out := ChartResult{Status: status, Error: raw.Error}
	if raw.Response != nil {
		out.Reasoning = raw.Response.Reasoning
		out.ChartType = raw.Response.ChartType
		out.ChartSchema = raw.Response.ChartSchema
	}
	return out, nil
}

func (c *Client) SubmitRecommendations(ctx context.Context, req RecommendationRequest) (string, error) {
	return c.submit(ctx, "/v1/question-recommendations", req)
}

func (c *Client) FetchRecommendationResult(ctx context.Context, queryID string) (RecommendationResult, error) {
	var raw struct {
		Status   string       `json:"status"`
		Error    *ResultError `json:"error"`
		Response *struct {
			Questions []RecommendedQuestion `json:"questions"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/question-recommendations/"+queryID+"/result", nil, &raw); err != nil {
		return RecommendationResult{}, err
	}
	status, err := task.Parse(task.KindRecommendation, raw.Status)
	if err != nil {
		return RecommendationResult{}, err
	}
	out := RecommendationResult{Status: status, Error: raw.Error}
	if raw.Response != nil {
		out.Questions = raw.Response.Questions
	}
	return out, nil
}

func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) (string, error) {
	return c.submit(ctx, "/v1/ask-feedbacks", req)
}

func (c *Client) FetchFeedbackResult(ctx context.Context, queryID string) (FeedbackResult, error) {
	var raw struct {
		Status   string         `json:"status"`
		Error    *ResultError   `json:"error"`
		Response []AskCandidate `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/ask-feedbacks/"+queryID+"/result", nil, &raw); err != nil {
		return FeedbackResult{}, err
	}
	status, err := task.Parse(task.KindFeedbackAdjustment, raw.Status)
	if err != nil {
		return FeedbackResult{}, err
	}
	return FeedbackResult{Status: status, Error: raw.Error, Candidates: raw.Response}, nil
}

func (c *Client) CreateSQLPair(ctx context.Context, pair SQLPair) error {
	return c.do(ctx, http.MethodPost, "/v1/sql-pairs", pair, nil)
}

func (c *Client) CreateInstruction(ctx context.Context, instr Instruction) error {
	return c.do(ctx, http.MethodPost, "/v1/instructions", instr, nil)
}

func (c *Client) SubmitSQLQuestions(ctx context.Context, req SQLQuestionsRequest) (string, error) {
	return c.submit(ctx, "/v1/sql-questions", req)
}

func (c *Client) FetchSQLQuestionsResult(ctx context.Context, queryID string) (SQLQuestionsResult, error) {
	var raw struct {
		Status    string       `json:"status"`
		Error     *ResultError `json:"error"`
		Questions []string     `json:"questions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sql-questions/"+queryID+"/result", nil, &raw); err != nil {
		return SQLQuestionsResult{}, err
	}
	status, err := task.Parse(task.KindSQLQuestions, raw.Status)
	if err != nil {
		return SQLQuestionsResult{}, err
	}
	return SQLQuestionsResult{Status: status, Error: raw.Error, Questions: raw.Questions}, nil
}

func (c *Client) Deploy(ctx context.Context, req DeployRequest) (string, error) {
	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/semantics-preparations", req, &out); err != nil {
		return "", err
	}
	if out.ID != "" {
		return out.ID, nil
	}
	return req.Hash, nil
}

func (c *Client) FetchDeployStatus(ctx context.Context, deployID string) (task.Status, string, error) {
	var raw struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/semantics-preparations/"+deployID+"/status", nil, &raw); err != nil {
		return "", "", err
	}
	status, err := task.Parse(task.KindDeploy, raw.Status)
	if err != nil {
		return "", "", err
	}
	return status, raw.Error, nil
}

// WaitForDeploy polls the deploy status with a linearly increasing backoff.
// Exhausting the retry budget (roughly 30s) returns a FAILED result rather
// than an error; transport errors between attempts are retried.
func (c *Client) WaitForDeploy(ctx context.Context, deployID string) DeployResult {
	var lastErr string
	for attempt := 1; attempt <= deployWaitAttempts; attempt++ {
		status, deployErr, err := c.FetchDeployStatus(ctx, deployID)
		if err != nil {
			lastErr = err.Error()
		} else if status.Terminal() {
			return DeployResult{Status: status, Error: deployErr}
		}

		select {
		case <-ctx.Done():
			return DeployResult{Status: task.StatusFailed, Error: ctx.Err().Error()}
		case <-time.After(deployWaitBase * time.Duration(attempt)):
		}
	}
	if lastErr == "" {
		lastErr = "deployment did not reach a terminal state in time"
	}
	return DeployResult{Status: task.StatusFailed, Error: lastErr}
}

func (c *Client) submit(ctx context.Context, path string, body any) (string, error) {
	var out submitResponse
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.QueryID == "" {
		return "", &RemoteError{StatusCode: http.StatusOK, Detail: "response missing query_id"}
	}
	return out.QueryID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return remoteErrorFromBody(res.StatusCode, res.Body)
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RemoteError{StatusCode: res.StatusCode, Detail: fmt.Sprintf("malformed body: %v", err)}
	}
	return nil
}

func remoteErrorFromBody(statusCode int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4<<10))
	remote := &RemoteError{StatusCode: statusCode, Detail: strings.TrimSpace(string(raw))}
	var werr wireError
	if err := json.Unmarshal(raw, &werr); err == nil {
		if werr.Code != "" {
			remote.Code = werr.Code
		}
		if werr.Message != "" {
			remote.Detail = werr.Message
		}
	}
	return remote
}
