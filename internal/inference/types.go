package inference

import (
	"encoding/json"

	"github.com/lucamorandi/genbi/internal/task"
)

// Wire contract notes: the AI service speaks lower_snake_case JSON, numeric
// ids travel as decimal strings, and status strings are lower-case. Fetch
// results normalize statuses through task.Parse before they reach callers.

type submitResponse struct {
	QueryID string `json:"query_id"`
	ID      string `json:"id"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AskHistory is one prior question/SQL exchange supplied as context for a
// follow-up ask.
type AskHistory struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

type AskRequest struct {
	Query     string       `json:"query"`
	ProjectID string       `json:"project_id,omitempty"`
	ThreadID  string       `json:"thread_id,omitempty"`
	Histories []AskHistory `json:"histories,omitempty"`
}

type AskCandidate struct {
	SQL  string `json:"sql"`
	Type string `json:"type,omitempty"`
}

type AskResult struct {
	Status     task.Status
	Error      *ResultError
	Candidates []AskCandidate
}

// ResultError is a failure payload reported inside a terminal FAILED result,
// as opposed to a transport-level RemoteError.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BreakdownRequest struct {
	Query     string `json:"query"`
	SQL       string `json:"sql"`
	ProjectID string `json:"project_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

type BreakdownStep struct {
	CTEName string `json:"cte_name"`
	Summary string `json:"summary"`
	SQL     string `json:"sql"`
}

type BreakdownResult struct {
	Status      task.Status
	Error       *ResultError
	Description string
	Steps       []BreakdownStep
}

type AnswerRequest struct {
	Query     string `json:"query"`
	SQL       string `json:"sql"`
	ProjectID string `json:"project_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

type AnswerResult struct {
	Status      task.Status
	Error       *ResultError
	NumRowsUsed int
}

type ChartRequest struct {
	Query     string `json:"query"`
	SQL       string `json:"sql"`
	ProjectID string `json:"project_id,omitempty"`
}

type ChartResult struct {
	Status      task.Status
	Error       *ResultError
	Reasoning   string
	ChartType   string
	ChartSchema json.RawMessage
}

type ChartAdjustmentRequest struct {
	Query       string          `json:"query"`
	SQL         string          `json:"sql"`
	ProjectID   string          `json:"project_id,omitempty"`
	Command     string          `json:"adjustment_command"`
	ChartSchema json.RawMessage `json:"chart_schema,omitempty"`
}

type RecommendationRequest struct {
	ProjectID     string   `json:"project_id,omitempty"`
	Questions     []string `json:"previous_questions,omitempty"`
	MaxQuestions  int      `json:"max_questions,omitempty"`
	MaxCategories int      `json:"max_categories,omitempty"`
}

type RecommendedQuestion struct {
	Question string `json:"question"`
	Category string `json:"category,omitempty"`
}

type RecommendationResult struct {
	Status    task.Status
	Error     *ResultError
	Questions []RecommendedQuestion
}

type FeedbackRequest struct {
	Question  string `json:"question"`
	SQL       string `json:"sql"`
	Reasoning string `json:"sql_generation_reasoning"`
	ProjectID string `json:"project_id,omitempty"`
}

type FeedbackResult struct {
	Status     task.Status
	Error      *ResultError
	Candidates []AskCandidate
}

type SQLPair struct {
	Question  string `json:"question"`
	SQL       string `json:"sql"`
	ProjectID string `json:"project_id,omitempty"`
}

type Instruction struct {
	Instruction string   `json:"instruction"`
	Questions   []string `json:"questions,omitempty"`
	IsDefault   bool     `json:"is_default,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
}

type SQLQuestionsRequest struct {
	SQLs      []string `json:"sqls"`
	ProjectID string   `json:"project_id,omitempty"`
}

type SQLQuestionsResult struct {
	Status    task.Status
	Error     *ResultError
	Questions []string
}

type DeployRequest struct {
	Manifest  json.RawMessage `json:"mdl"`
	Hash      string          `json:"mdl_hash"`
	ProjectID string          `json:"project_id,omitempty"`
}

// DeployResult is the final outcome of a deploy wait. Exhausting the retry
// budget yields a FAILED result rather than an error.
type DeployResult struct {
	Status task.Status
	Error  string
}
