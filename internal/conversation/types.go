package conversation

import (
	"encoding/json"
	"time"

	"github.com/lucamorandi/genbi/internal/task"
)

// Thread groups one or more question/answer exchanges for a project.
type Thread struct {
	ID              int         `json:"id"`
	ProjectID       int         `json:"project_id"`
	Summary         string      `json:"summary"`
	Questions       []string    `json:"questions,omitempty"`
	QuestionsStatus task.Status `json:"questions_status,omitempty"`
	QuestionsError  string      `json:"questions_error,omitempty"`
	QuestionsTaskID string      `json:"questions_task_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ThreadResponse is one exchange's full record. The sql field is immutable
// once the authoritative candidate is chosen; edits happen through a new
// response carrying an Adjustment that points back at the original.
type ThreadResponse struct {
	ID              int              `json:"id"`
	ThreadID        int              `json:"thread_id"`
	Question        string           `json:"question"`
	SQL             string           `json:"sql,omitempty"`
	AskingTaskID    string           `json:"asking_task_id,omitempty"`
	AskingStatus    task.Status      `json:"asking_status,omitempty"`
	AskingError     string           `json:"asking_error,omitempty"`
	BreakdownDetail *BreakdownDetail `json:"breakdown_detail,omitempty"`
	AnswerDetail    *AnswerDetail    `json:"answer_detail,omitempty"`
	ChartDetail     *ChartDetail     `json:"chart_detail,omitempty"`
	Adjustment      *Adjustment      `json:"adjustment,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type BreakdownStep struct {
	CTEName string `json:"cte_name"`
	Summary string `json:"summary"`
	SQL     string `json:"sql"`
}

type BreakdownDetail struct {
	QueryID     string          `json:"query_id"`
	Status      task.Status     `json:"status"`
	Error       string          `json:"error,omitempty"`
	Description string          `json:"description,omitempty"`
	Steps       []BreakdownStep `json:"steps,omitempty"`
}

type AnswerDetail struct {
	QueryID     string      `json:"query_id"`
	Status      task.Status `json:"status"`
	Error       string      `json:"error,omitempty"`
	Content     string      `json:"content,omitempty"`
	NumRowsUsed int         `json:"num_rows_used,omitempty"`
}

type ChartDetail struct {
	QueryID     string          `json:"query_id"`
	Status      task.Status     `json:"status"`
	Error       string          `json:"error,omitempty"`
	Description string          `json:"description,omitempty"`
	ChartType   string          `json:"chart_type,omitempty"`
	ChartSchema json.RawMessage `json:"chart_schema,omitempty"`
	Adjusted    bool            `json:"adjusted,omitempty"`
}

type AdjustmentType string

const (
	// AdjustmentTypeSQL records a manual SQL override.
	AdjustmentTypeSQL AdjustmentType = "sql"
	// AdjustmentTypeReasoning records a feedback-driven regeneration.
	AdjustmentTypeReasoning AdjustmentType = "reasoning"
)

// Adjustment links a revised response back to the response it revises.
// Records form a forward-pointing chain to the original; history is never
// rewritten in place.
type Adjustment struct {
	Type               AdjustmentType `json:"type"`
	OriginalResponseID int            `json:"original_thread_response_id"`
	QueryID            string         `json:"query_id,omitempty"`
	Status             task.Status    `json:"status,omitempty"`
	Error              string         `json:"error,omitempty"`
	SQL                string         `json:"sql,omitempty"`
	Reasoning          string         `json:"reasoning,omitempty"`
}

func (t Thread) Clone() Thread {
	out := t
	if t.Questions != nil {
		out.Questions = make([]string, len(t.Questions))
		copy(out.Questions, t.Questions)
	}
	return out
}

func (r ThreadResponse) Clone() ThreadResponse {
	out := r
	if r.BreakdownDetail != nil {
		d := *r.BreakdownDetail
		if d.Steps != nil {
			d.Steps = make([]BreakdownStep, len(r.BreakdownDetail.Steps))
			copy(d.Steps, r.BreakdownDetail.Steps)
		}
		out.BreakdownDetail = &d
	}
	if r.AnswerDetail != nil {
		d := *r.AnswerDetail
		out.AnswerDetail = &d
	}
	if r.ChartDetail != nil {
		d := *r.ChartDetail
		out.ChartDetail = &d
	}
	if r.Adjustment != nil {
		a := *r.Adjustment
		out.Adjustment = &a
	}
	return out
}
