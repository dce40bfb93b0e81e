package conversation

import (
	"context"
	"errors"

	"github.com/lucamorandi/genbi/internal/task"
)

var (
	ErrThreadNotFound   = errors.New("thread not found")
	ErrResponseNotFound = errors.New("thread response not found")
)

// ThreadPatch is a partial update; nil fields are left untouched.
type ThreadPatch struct {
	Summary         *string
	Questions       []string
	QuestionsStatus *task.Status
	QuestionsError  *string
	QuestionsTaskID *string
}

// ResponsePatch is a partial update; nil fields are left untouched.
type ResponsePatch struct {
	SQL             *string
	AskingTaskID    *string
	AskingStatus    *task.Status
	AskingError     *string
	BreakdownDetail *BreakdownDetail
	AnswerDetail    *AnswerDetail
	ChartDetail     *ChartDetail
	Adjustment      *Adjustment
}

// Store persists the conversation aggregate. Implementations must cascade
// thread deletion to the thread's responses.
type Store interface {
	CreateThread(ctx context.Context, t Thread) (Thread, error)
	FindThread(ctx context.Context, id int) (Thread, error)
	ListThreadsByProject(ctx context.Context, projectID int) ([]Thread, error)
	UpdateThread(ctx context.Context, id int, patch ThreadPatch) (Thread, error)
	DeleteThread(ctx context.Context, id int) error

	CreateResponse(ctx context.Context, r ThreadResponse) (ThreadResponse, error)
	FindResponse(ctx context.Context, id int) (ThreadResponse, error)
	ListResponsesByThread(ctx context.Context, threadID int) ([]ThreadResponse, error)
	UpdateResponse(ctx context.Context, id int, patch ResponsePatch) (ThreadResponse, error)

	Close() error
}
