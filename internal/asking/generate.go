package asking

import (
	"context"
	"errors"
	"strings"

	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/inference"
	"github.com/lucamorandi/genbi/internal/preview"
	"github.com/lucamorandi/genbi/internal/task"
)

const (
	recommendationQuestionLimit = 5
	recommendationMaxCategories = 3
)

// GenerateThreadResponseBreakdown submits a breakdown task for the response's
// SQL, writes the pending detail, and registers the response with the
// breakdown tracker. Re-submission overwrites the previous detail; the old
// task is abandoned, not merged.
func (s *Service) GenerateThreadResponseBreakdown(ctx context.Context, responseID int) (conversation.ThreadResponse, error) {
	resp, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return conversation.ThreadResponse{}, errors.New("response has no sql to break down")
	}

	queryID, err := s.client.SubmitBreakdown(ctx, inference.BreakdownRequest{
		Query:     resp.Question,
		SQL:       resp.SQL,
		ProjectID: decimalID(thread.ProjectID),
		ThreadID:  decimalID(resp.ThreadID),
	})
	if err != nil {
		s.telemetry.SendEvent("breakdown_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return conversation.ThreadResponse{}, err
	}

	detail := &conversation.BreakdownDetail{QueryID: queryID, Status: task.StatusUnderstanding}
	updated, err := s.store.UpdateResponse(ctx, responseID, conversation.ResponsePatch{BreakdownDetail: detail})
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if err := s.bindings.Save(ctx, task.Binding{TaskID: queryID, Kind: task.KindBreakdown, ThreadID: resp.ThreadID, ResponseID: responseID}); err != nil {
		return conversation.ThreadResponse{}, err
	}

	s.trackers[task.KindBreakdown].Register(responseID, &breakdownJob{
		svc:        s,
		responseID: responseID,
		queryID:    queryID,
		last:       task.StatusUnderstanding,
	})
	s.metrics.ObserveTaskEvent(string(task.KindBreakdown), "submitted")
	return updated, nil
}

// GenerateThreadResponseAnswer submits a text-answer task for the response.
func (s *Service) GenerateThreadResponseAnswer(ctx context.Context, responseID int) (conversation.ThreadResponse, error) {
	resp, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return conversation.ThreadResponse{}, errors.New("response has no sql to answer from")
	}

	queryID, err := s.client.SubmitAnswer(ctx, inference.AnswerRequest{
		Query:     resp.Question,
		SQL:       resp.SQL,
		ProjectID: decimalID(thread.ProjectID),
		ThreadID:  decimalID(resp.ThreadID),
	})
	if err != nil {
		s.telemetry.SendEvent("answer_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return conversation.ThreadResponse{}, err
	}

	detail := &conversation.AnswerDetail{QueryID: queryID, Status: task.StatusPreprocessing}
	updated, err := s.store.UpdateResponse(ctx, responseID, conversation.ResponsePatch{AnswerDetail: detail})
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if err := s.bindings.Save(ctx, task.Binding{TaskID: queryID, Kind: task.KindAnswer, ThreadID: resp.ThreadID, ResponseID: responseID}); err != nil {
		return conversation.ThreadResponse{}, err
	}

	s.trackers[task.KindAnswer].Register(responseID, &answerJob{
		svc:        s,
		responseID: responseID,
		queryID:    queryID,
		last:       task.StatusPreprocessing,
	})
	s.metrics.ObserveTaskEvent(string(task.KindAnswer), "submitted")
	return updated, nil
}

// GenerateThreadResponseChart submits a chart-generation task.
func (s *Service) GenerateThreadResponseChart(ctx context.Context, responseID int) (conversation.ThreadResponse, error) {
	resp, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return conversation.ThreadResponse{}, errors.New("response has no sql to chart")
	}

	queryID, err := s.client.SubmitChart(ctx, inference.ChartRequest{
		Query:     resp.Question,
		SQL:       resp.SQL,
		ProjectID: decimalID(thread.ProjectID),
	})
	if err != nil {
		s.telemetry.SendEvent("chart_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return conversation.ThreadResponse{}, err
	}

	detail := &conversation.ChartDetail{QueryID: queryID, Status: task.StatusFetching}
	updated, err := s.store.UpdateResponse(ctx, responseID, conversation.ResponsePatch{ChartDetail: detail})
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if err := s.bindings.Save(ctx, task.Binding{TaskID: queryID, Kind: task.KindChart, ThreadID: resp.ThreadID, ResponseID: responseID}); err != nil {
		return conversation.ThreadResponse{}, err
	}

	s.trackers[task.KindChart].Register(responseID, &chartJob{
		svc:        s,
		responseID: responseID,
		queryID:    queryID,
		kind:       task.KindChart,
		last:       task.StatusFetching,
	})
	s.metrics.ObserveTaskEvent(string(task.KindChart), "submitted")
	return updated, nil
}

type AdjustChartRequest struct {
	Command string
}

// AdjustThreadResponseChart submits a chart-adjustment task carrying the
// prior chart schema and overwrites the chart detail with the new pending
// state.
func (s *Service) AdjustThreadResponseChart(ctx context.Context, responseID int, req AdjustChartRequest) (conversation.ThreadResponse, error) {
	resp, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if resp.ChartDetail == nil {
		return conversation.ThreadResponse{}, errors.New("response has no chart to adjust")
	}
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return conversation.ThreadResponse{}, errors.New("adjustment command is required")
	}

	queryID, err := s.client.SubmitChartAdjustment(ctx, inference.ChartAdjustmentRequest{
		Query:       resp.Question,
		SQL:         resp.SQL,
		ProjectID:   decimalID(thread.ProjectID),
		Command:     command,
		ChartSchema: resp.ChartDetail.ChartSchema,
	})
	if err != nil {
		s.telemetry.SendEvent("chart_adjustment_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return conversation.ThreadResponse{}, err
	}

	detail := &conversation.ChartDetail{QueryID: queryID, Status: task.StatusFetching, Adjusted: true}
	updated, err := s.store.UpdateResponse(ctx, responseID, conversation.ResponsePatch{ChartDetail: detail})
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if err := s.bindings.Save(ctx, task.Binding{TaskID: queryID, Kind: task.KindChartAdjustment, ThreadID: resp.ThreadID, ResponseID: responseID}); err != nil {
		return conversation.ThreadResponse{}, err
	}

	s.trackers[task.KindChartAdjustment].Register(responseID, &chartJob{
		svc:        s,
		responseID: responseID,
		queryID:    queryID,
		kind:       task.KindChartAdjustment,
		last:       task.StatusFetching,
	})
	s.metrics.ObserveTaskEvent(string(task.KindChartAdjustment), "submitted")
	return updated, nil
}

// AdjustThreadResponseWithSQL records a manual SQL override as a new
// response pointing back at the original. The original's sql is never
// mutated.
func (s *Service) AdjustThreadResponseWithSQL(ctx context.Context, responseID int, sql string) (conversation.ThreadResponse, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return conversation.ThreadResponse{}, errors.New("sql is required")
	}
	orig, err := s.store.FindResponse(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}

	created, err := s.store.CreateResponse(ctx, conversation.ThreadResponse{
		ThreadID: orig.ThreadID,
		Question: orig.Question,
		SQL:      sql,
		Adjustment: &conversation.Adjustment{
			Type:               conversation.AdjustmentTypeSQL,
			OriginalResponseID: responseID,
			SQL:                sql,
			Status:             task.StatusFinished,
		},
	})
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	s.metrics.ObserveTaskEvent(string(task.KindFeedbackAdjustment), "manual_sql")
	s.telemetry.SendEvent("adjust_with_sql", map[string]any{"original_thread_response_id": responseID}, telemetryService, true)
	return created, nil
}

type AdjustAnswerRequest struct {
	Reasoning string
}

// AdjustThreadResponseAnswer submits a feedback-adjustment task and creates
// the revised response up front; the feedback tracker fills in the corrected
// SQL when the task finishes.
func (s *Service) AdjustThreadResponseAnswer(ctx context.Context, responseID int, req AdjustAnswerRequest) (conversation.ThreadResponse, error) {
	reasoning := strings.TrimSpace(req.Reasoning)
	if reasoning == "" {
		return conversation.ThreadResponse{}, errors.New("reasoning is required")
	}
	orig, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}

	queryID, err := s.client.SubmitFeedback(ctx, inference.FeedbackRequest{
		Question:  orig.Question,
		SQL:       orig.SQL,
		Reasoning: reasoning,
		ProjectID: decimalID(thread.ProjectID),
	})
	if err != nil {
		s.telemetry.SendEvent("feedback_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return conversation.ThreadResponse{}, err
	}

	created, err := s.store.CreateResponse(ctx, conversation.ThreadResponse{
		ThreadID: orig.ThreadID,
		Question: orig.Question,
		Adjustment: &conversation.Adjustment{
			Type:               conversation.AdjustmentTypeReasoning,
			OriginalResponseID: responseID,
			QueryID:            queryID,
			Status:             task.StatusUnderstanding,
			Reasoning:          reasoning,
		},
	})
	if err != nil {
		return conversation.ThreadResponse{}, err
	}
	if err := s.bindings.Save(ctx, task.Binding{TaskID: queryID, Kind: task.KindFeedbackAdjustment, ThreadID: orig.ThreadID, ResponseID: created.ID}); err != nil {
		return conversation.ThreadResponse{}, err
	}

	s.trackers[task.KindFeedbackAdjustment].Register(created.ID, &feedbackJob{
		svc:        s,
		responseID: created.ID,
		queryID:    queryID,
		last:       task.StatusUnderstanding,
	})
	s.metrics.ObserveTaskEvent(string(task.KindFeedbackAdjustment), "submitted")
	return created, nil
}

// GenerateThreadRecommendationQuestions submits a recommendation task scoped
// to the thread's most recent questions. A thread already being generated is
// skipped, not queued: the call is a no-op.
func (s *Service) GenerateThreadRecommendationQuestions(ctx context.Context, threadID int) error {
	thread, err := s.store.FindThread(ctx, threadID)
	if err != nil {
		return err
	}
	rec := s.trackers[task.KindRecommendation]
	if rec.Tracking(threadID) {
		logSkip(rec.Name(), threadID)
		return nil
	}

	responses, err := s.store.ListResponsesByThread(ctx, threadID)
	if err != nil {
		return err
	}
	questions := make([]string, 0, recommendationQuestionLimit)
	for i := len(responses) - 1; i >= 0 && len(questions) < recommendationQuestionLimit; i-- {
		questions = append(questions, responses[i].Question)
	}

	queryID, err := s.client.SubmitRecommendations(ctx, inference.RecommendationRequest{
		ProjectID:     decimalID(thread.ProjectID),
		Questions:     questions,
		MaxQuestions:  recommendationQuestionLimit,
		MaxCategories: recommendationMaxCategories,
	})
	if err != nil {
		s.telemetry.SendEvent("recommendation_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return err
	}

	status := task.StatusGenerating
	empty := ""
	if _, err := s.store.UpdateThread(ctx, threadID, conversation.ThreadPatch{
		QuestionsStatus: &status,
		QuestionsError:  &empty,
		QuestionsTaskID: &queryID,
	}); err != nil {
		return err
	}

	rec.Register(threadID, &recommendationJob{
		svc:      s,
		threadID: threadID,
		queryID:  queryID,
		last:     task.StatusGenerating,
	})
	s.metrics.ObserveTaskEvent(string(task.KindRecommendation), "submitted")
	return nil
}

// PreviewData executes the response's SQL against the live data source.
func (s *Service) PreviewData(ctx context.Context, responseID, limit int) (*preview.Result, error) {
	resp, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.SQL) == "" {
		return nil, errors.New("response has no sql to preview")
	}
	return s.runPreview(ctx, resp.SQL, thread.ProjectID, limit)
}

// PreviewBreakdownData executes the CTE assembled from the response's
// breakdown steps, optionally truncated at stepIndex.
func (s *Service) PreviewBreakdownData(ctx context.Context, responseID int, stepIndex *int, limit int) (*preview.Result, error) {
	resp, thread, err := s.responseWithThread(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.BreakdownDetail == nil {
		return nil, errors.New("response has no breakdown")
	}
	sql, err := ConstructCTESQL(resp.BreakdownDetail.Steps, stepIndex)
	if err != nil {
		return nil, err
	}
	return s.runPreview(ctx, sql, thread.ProjectID, limit)
}

func (s *Service) runPreview(ctx context.Context, sql string, projectID, limit int) (*preview.Result, error) {
	if limit <= 0 || limit > s.cfg.PreviewLimit {
		limit = s.cfg.PreviewLimit
	}
	result, err := s.runner.Preview(ctx, sql, preview.Options{
		ProjectID:  projectID,
		ManifestID: s.deployedManifest(),
		Limit:      limit,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.PreviewRequests.WithLabelValues("error").Inc()
		}
		s.telemetry.SendEvent("preview_data", map[string]any{"error": err.Error()}, telemetryService, false)
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PreviewRequests.WithLabelValues("ok").Inc()
	}
	return result, nil
}

func (s *Service) responseWithThread(ctx context.Context, responseID int) (conversation.ThreadResponse, conversation.Thread, error) {
	resp, err := s.store.FindResponse(ctx, responseID)
	if err != nil {
		return conversation.ThreadResponse{}, conversation.Thread{}, err
	}
	thread, err := s.store.FindThread(ctx, resp.ThreadID)
	if err != nil {
		return conversation.ThreadResponse{}, conversation.Thread{}, err
	}
	return resp, thread, nil
}
