package asking

import (
	"context"
	"errors"
	"strings"

	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/task"
)

// The job types below are the per-kind poll steps handed to the trackers.
// Each one fetches the remote status, skips the persistence write when
// nothing changed since the previous observation, and reports done only on a
// terminal status so the tracker deregisters the entity exactly then.
//
// A poll target deleted underneath the job (thread removed between ticks)
// also ends tracking: reporting done instead of an error keeps the tracker
// from polling a vanished entity forever.

func responseGone(err error) bool {
	return errors.Is(err, conversation.ErrResponseNotFound)
}

func threadGone(err error) bool {
	return errors.Is(err, conversation.ErrThreadNotFound)
}

type askingJob struct {
	svc        *Service
	responseID int
	queryID    string
	last       task.Status
}

func (j *askingJob) Poll(ctx context.Context) (bool, error) {
	res, err := j.svc.client.FetchAskResult(ctx, j.queryID)
	if err != nil {
		return false, err
	}
	if res.Status == j.last {
		return res.Status.Terminal(), nil
	}

	patch := conversation.ResponsePatch{AskingStatus: &res.Status}
	errMsg := resultErrorMessage(res.Error)
	patch.AskingError = &errMsg
	if res.Status == task.StatusFinished && len(res.Candidates) > 0 {
		resp, err := j.svc.store.FindResponse(ctx, j.responseID)
		if err != nil {
			return false, err
		}
		if strings.TrimSpace(resp.SQL) == "" {
			sql := res.Candidates[0].SQL
			patch.SQL = &sql
		}
	}
	if _, err := j.svc.store.UpdateResponse(ctx, j.responseID, patch); err != nil {
		if responseGone(err) {
			return true, nil
		}
		return false, err
	}
	j.last = res.Status
	j.svc.observeStatusChange(task.KindAsking, res.Status, map[string]any{
		"task_id":            j.queryID,
		"thread_response_id": j.responseID,
	})
	return res.Status.Terminal(), nil
}

type breakdownJob struct {
	svc        *Service
	responseID int
	queryID    string
	last       task.Status
}

func (j *breakdownJob) Poll(ctx context.Context) (bool, error) {
	res, err := j.svc.client.FetchBreakdownResult(ctx, j.queryID)
	if err != nil {
		return false, err
	}
	if res.Status == j.last {
		return res.Status.Terminal(), nil
	}

	steps := make([]conversation.BreakdownStep, len(res.Steps))
	for i, s := range res.Steps {
		steps[i] = conversation.BreakdownStep{CTEName: s.CTEName, Summary: s.Summary, SQL: s.SQL}
	}
	detail := &conversation.BreakdownDetail{
		QueryID:     j.queryID,
		Status:      res.Status,
		Error:       resultErrorMessage(res.Error),
		Description: res.Description,
		Steps:       steps,
	}
	if _, err := j.svc.store.UpdateResponse(ctx, j.responseID, conversation.ResponsePatch{BreakdownDetail: detail}); err != nil {
		if responseGone(err) {
			return true, nil
		}
		return false, err
	}
	j.last = res.Status
	j.svc.observeStatusChange(task.KindBreakdown, res.Status, map[string]any{
		"task_id":            j.queryID,
		"thread_response_id": j.responseID,
	})
	return res.Status.Terminal(), nil
}

type answerJob struct {
	svc        *Service
	responseID int
	queryID    string
	last       task.Status
}

func (j *answerJob) Poll(ctx context.Context) (bool, error) {
	res, err := j.svc.client.FetchAnswerResult(ctx, j.queryID)
	if err != nil {
		return false, err
	}
	if res.Status == j.last {
		return res.Status.Terminal(), nil
	}

	detail := &conversation.AnswerDetail{
		QueryID:     j.queryID,
		Status:      res.Status,
		Error:       resultErrorMessage(res.Error),
		NumRowsUsed: res.NumRowsUsed,
	}
	if res.Status == task.StatusFinished {
		var content strings.Builder
		err := j.svc.client.StreamAnswer(ctx, j.queryID, func(delta string) error {
			content.WriteString(delta)
			return nil
		})
		if err != nil {
			return false, err
		}
		detail.Content = content.String()
	}
	if _, err := j.svc.store.UpdateResponse(ctx, j.responseID, conversation.ResponsePatch{AnswerDetail: detail}); err != nil {
		if responseGone(err) {
			return true, nil
		}
		return false, err
	}
	j.last = res.Status
	j.svc.observeStatusChange(task.KindAnswer, res.Status, map[string]any{
		"task_id":            j.queryID,
		"thread_response_id": j.responseID,
	})
	return res.Status.Terminal(), nil
}

// chartJob serves both plain chart generation and chart adjustment; the two
// kinds share the result shape and the persisted detail, differing only in
// the fetch endpoint and the adjusted flag.
type chartJob struct {
	svc        *Service
	responseID int
	queryID    string
	kind       task.Kind
	last       task.Status
}

func (j *chartJob) Poll(ctx context.Context) (bool, error) {
	fetch := j.svc.client.FetchChartResult
	if j.kind == task.KindChartAdjustment {
		fetch = j.svc.client.FetchChartAdjustmentResult
	}
	res, err := fetch(ctx, j.queryID)
	if err != nil {
		return false, err
	}
	if res.Status == j.last {
		return res.Status.Terminal(), nil
	}

	detail := &conversation.ChartDetail{
		QueryID:     j.queryID,
		Status:      res.Status,
		Error:       resultErrorMessage(res.Error),
		Description: res.Reasoning,
		ChartType:   res.ChartType,
		ChartSchema: res.ChartSchema,
		Adjusted:    j.kind == task.KindChartAdjustment,
	}
	if _, err := j.svc.store.UpdateResponse(ctx, j.responseID, conversation.ResponsePatch{ChartDetail: detail}); err != nil {
		if responseGone(err) {
			return true, nil
		}
		return false, err
	}
	j.last = res.Status
	j.svc.observeStatusChange(j.kind, res.Status, map[string]any{
		"task_id":            j.queryID,
		"thread_response_id": j.responseID,
	})
	return res.Status.Terminal(), nil
}

type recommendationJob struct {
	svc      *Service
	threadID int
	queryID  string
	last     task.Status
}

func (j *recommendationJob) Poll(ctx context.Context) (bool, error) {
	res, err := j.svc.client.FetchRecommendationResult(ctx, j.queryID)
	if err != nil {
		return false, err
	}
	if res.Status == j.last {
		return res.Status.Terminal(), nil
	}

	patch := conversation.ThreadPatch{QuestionsStatus: &res.Status}
	errMsg := resultErrorMessage(res.Error)
	patch.QuestionsError = &errMsg
	if res.Status == task.StatusFinished {
		questions := make([]string, 0, len(res.Questions))
		for _, q := range res.Questions {
			questions = append(questions, q.Question)
		}
		patch.Questions = questions
	}
	if _, err := j.svc.store.UpdateThread(ctx, j.threadID, patch); err != nil {
		if threadGone(err) {
			return true, nil
		}
		return false, err
	}
	j.last = res.Status
	j.svc.observeStatusChange(task.KindRecommendation, res.Status, map[string]any{
		"task_id":   j.queryID,
		"thread_id": j.threadID,
	})
	return res.Status.Terminal(), nil
}

type feedbackJob struct {
	svc        *Service
	responseID int
	queryID    string
	last       task.Status
}

func (j *feedbackJob) Poll(ctx context.Context) (bool, error) {
	res, err := j.svc.client.FetchFeedbackResult(ctx, j.queryID)
	if err != nil {
		return false, err
	}
	if res.Status == j.last {
		return res.Status.Terminal(), nil
	}

	resp, err := j.svc.store.FindResponse(ctx, j.responseID)
	if err != nil {
		return false, err
	}
	if resp.Adjustment == nil {
		return false, errors.New("feedback response lost its adjustment record")
	}
	adj := *resp.Adjustment
	adj.Status = res.Status
	adj.Error = resultErrorMessage(res.Error)

	patch := conversation.ResponsePatch{Adjustment: &adj}
	if res.Status == task.StatusFinished && len(res.Candidates) > 0 {
		sql := res.Candidates[0].SQL
		adj.SQL = sql
		patch.SQL = &sql
	}
	if _, err := j.svc.store.UpdateResponse(ctx, j.responseID, patch); err != nil {
		if responseGone(err) {
			return true, nil
		}
		return false, err
	}
	j.last = res.Status
	j.svc.observeStatusChange(task.KindFeedbackAdjustment, res.Status, map[string]any{
		"task_id":            j.queryID,
		"thread_response_id": j.responseID,
	})
	return res.Status.Terminal(), nil
}
