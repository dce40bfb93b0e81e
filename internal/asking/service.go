package asking

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/inference"
	"github.com/lucamorandi/genbi/internal/observability"
	"github.com/lucamorandi/genbi/internal/preview"
	"github.com/lucamorandi/genbi/internal/task"
	"github.com/lucamorandi/genbi/internal/telemetry"
	"github.com/lucamorandi/genbi/internal/tracker"
)

const telemetryService = "asking"

// RemoteClient is the slice of the AI service contract this service consumes.
type RemoteClient interface {
	SubmitAsk(ctx context.Context, req inference.AskRequest) (string, error)
	CancelAsk(ctx context.Context, queryID string) error
	FetchAskResult(ctx context.Context, queryID string) (inference.AskResult, error)
	SubmitBreakdown(ctx context.Context, req inference.BreakdownRequest) (string, error)
	FetchBreakdownResult(ctx context.Context, queryID string) (inference.BreakdownResult, error)
	SubmitAnswer(ctx context.Context, req inference.AnswerRequest) (string, error)
	FetchAnswerResult(ctx context.Context, queryID string) (inference.AnswerResult, error)
	StreamAnswer(ctx context.Context, queryID string, onDelta inference.DeltaHandler) error
	SubmitChart(ctx context.Context, req inference.ChartRequest) (string, error)
	FetchChartResult(ctx context.Context, queryID string) (inference.ChartResult, error)
	SubmitChartAdjustment(ctx context.Context, req inference.ChartAdjustmentRequest) (string, error)
	FetchChartAdjustmentResult(ctx context.Context, queryID string) (inference.ChartResult, error)
	SubmitRecommendations(ctx context.Context, req inference.RecommendationRequest) (string, error)
	FetchRecommendationResult(ctx context.Context, queryID string) (inference.RecommendationResult, error)
	SubmitFeedback(ctx context.Context, req inference.FeedbackRequest) (string, error)
	FetchFeedbackResult(ctx context.Context, queryID string) (inference.FeedbackResult, error)
}

// Config carries the service's tunables, injected from the process config.
type Config struct {
	PollInterval    time.Duration
	AskHistoryLimit int
	PreviewLimit    int
}

// Service is the orchestration façade: it validates preconditions, creates
// conversation entities, submits tasks to the AI service, and registers them
// with the background tracker matching their kind.
type Service struct {
	cfg       Config
	client    RemoteClient
	store     conversation.Store
	bindings  task.BindingStore
	runner    preview.Runner
	telemetry *telemetry.Client
	metrics   *observability.Metrics

	trackers map[task.Kind]*tracker.Tracker

	mu         sync.Mutex
	manifestID string
}

func New(cfg Config, client RemoteClient, store conversation.Store, bindings task.BindingStore, runner preview.Runner, tel *telemetry.Client, metrics *observability.Metrics) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.AskHistoryLimit <= 0 {
		cfg.AskHistoryLimit = 10
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = 500
	}
	kinds := []task.Kind{
		task.KindAsking,
		task.KindBreakdown,
		task.KindAnswer,
		task.KindChart,
		task.KindChartAdjustment,
		task.KindRecommendation,
		task.KindFeedbackAdjustment,
	}
	trackers := make(map[task.Kind]*tracker.Tracker, len(kinds))
	for _, kind := range kinds {
		trackers[kind] = tracker.New(string(kind), cfg.PollInterval, metrics)
	}
	return &Service{
		cfg:       cfg,
		client:    client,
		store:     store,
		bindings:  bindings,
		runner:    runner,
		telemetry: tel,
		metrics:   metrics,
		trackers:  trackers,
	}
}

// Run drives every tracker's poll loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.trackers {
		t := t
		g.Go(func() error { return t.Run(ctx) })
	}
	return g.Wait()
}

type CreateAskRequest struct {
	Question  string
	ThreadID  int
	ProjectID int
}

// CreateAskingTask submits a question to the AI service. When the question
// belongs to a thread, the last AskHistoryLimit answered exchanges (newest
// first) travel along as context.
func (s *Service) CreateAskingTask(ctx context.Context, req CreateAskRequest) (string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", errors.New("question is required")
	}

	var histories []inference.AskHistory
	if req.ThreadID != 0 {
		if _, err := s.store.FindThread(ctx, req.ThreadID); err != nil {
			return "", err
		}
		var err error
		histories, err = s.resolveHistories(ctx, req.ThreadID, 0)
		if err != nil {
			return "", err
		}
	}

	taskID, err := s.client.SubmitAsk(ctx, inference.AskRequest{
		Query:     question,
		ProjectID: decimalID(req.ProjectID),
		ThreadID:  decimalID(req.ThreadID),
		Histories: histories,
	})
	if err != nil {
		s.telemetry.SendEvent("asking_task_submit", map[string]any{"error": err.Error()}, telemetryService, false)
		return "", err
	}

	if err := s.bindings.Save(ctx, task.Binding{TaskID: taskID, Kind: task.KindAsking, ThreadID: req.ThreadID}); err != nil {
		return "", err
	}
	s.metrics.ObserveTaskEvent(string(task.KindAsking), "submitted")
	s.telemetry.SendEvent("asking_task_submit", map[string]any{"task_id": taskID}, telemetryService, true)
	return taskID, nil
}

// RerunAskingTask re-submits a response's original question. The new binding
// records the superseded task id so the audit trail survives the rerun.
func (s *Service) RerunAskingTask(ctx context.Context, responseID int) (string, error) {
	resp, err := s.store.FindResponse(ctx, responseID)
	if err != nil {
		return "", err
	}
	thread, err := s.store.FindThread(ctx, resp.ThreadID)
	if err != nil {
		return "", err
	}
	histories, err := s.resolveHistories(ctx, resp.ThreadID, responseID)
	if err != nil {
		return "", err
	}

	taskID, err := s.client.SubmitAsk(ctx, inference.AskRequest{
		Query:     resp.Question,
		ProjectID: decimalID(thread.ProjectID),
		ThreadID:  decimalID(resp.ThreadID),
		Histories: histories,
	})
	if err != nil {
		s.telemetry.SendEvent("asking_task_rerun", map[string]any{"error": err.Error()}, telemetryService, false)
		return "", err
	}

	if err := s.bindings.Save(ctx, task.Binding{
		TaskID:         taskID,
		Kind:           task.KindAsking,
		ThreadID:       resp.ThreadID,
		ResponseID:     responseID,
		PreviousTaskID: resp.AskingTaskID,
	}); err != nil {
		return "", err
	}

	status := task.StatusUnderstanding
	empty := ""
	if _, err := s.store.UpdateResponse(ctx, responseID, conversation.ResponsePatch{
		AskingTaskID: &taskID,
		AskingStatus: &status,
		AskingError:  &empty,
	}); err != nil {
		return "", err
	}
	s.registerAsking(responseID, taskID)
	s.metrics.ObserveTaskEvent(string(task.KindAsking), "rerun")
	s.telemetry.SendEvent("asking_task_rerun", map[string]any{"task_id": taskID, "previous_task_id": resp.AskingTaskID}, telemetryService, true)
	return taskID, nil
}

// CancelAskingTask requests remote cancellation. The task stays tracked
// until a poll observes the terminal STOPPED status.
func (s *Service) CancelAskingTask(ctx context.Context, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return errors.New("task id is required")
	}
	if err := s.client.CancelAsk(ctx, taskID); err != nil {
		s.telemetry.SendEvent("asking_task_cancel", map[string]any{"task_id": taskID, "error": err.Error()}, telemetryService, false)
		return err
	}
	s.metrics.ObserveTaskEvent(string(task.KindAsking), "cancel_requested")
	s.telemetry.SendEvent("asking_task_cancel", map[string]any{"task_id": taskID}, telemetryService, true)
	return nil
}

type CreateThreadRequest struct {
	ProjectID int
	Question  string
	TaskID    string
}

// CreateThread persists a new thread plus its first response. A supplied
// task id is re-bound to the created entities and handed to the asking
// tracker for reconciliation.
func (s *Service) CreateThread(ctx context.Context, req CreateThreadRequest) (conversation.Thread, conversation.ThreadResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return conversation.Thread{}, conversation.ThreadResponse{}, errors.New("question is required")
	}

	thread, err := s.store.CreateThread(ctx, conversation.Thread{
		ProjectID: req.ProjectID,
		Summary:   question,
	})
	if err != nil {
		return conversation.Thread{}, conversation.ThreadResponse{}, err
	}
	resp, err := s.createResponse(ctx, thread.ID, question, req.TaskID)
	if err != nil {
		return conversation.Thread{}, conversation.ThreadResponse{}, err
	}
	return thread, resp, nil
}

type CreateResponseRequest struct {
	Question string
	TaskID   string
}

// CreateThreadResponse appends an exchange to an existing thread.
func (s *Service) CreateThreadResponse(ctx context.Context, threadID int, req CreateResponseRequest) (conversation.ThreadResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return conversation.ThreadResponse{}, errors.New("question is required")
	}
	if _, err := s.store.FindThread(ctx, threadID); err != nil {
		return conversation.ThreadResponse{}, err
	}
	return s.createResponse(ctx, threadID, question, req.TaskID)
}

func (s *Service) createResponse(ctx context.Context, threadID int, question, taskID string) (conversation.ThreadResponse, error) {
	resp := conversation.ThreadResponse{
		ThreadID: threadID,
		Question: question,
	}
	if taskID != "" {
		resp.AskingTaskID = taskID
		resp.AskingStatus = task.StatusUnderstanding
	}
	created, err := s.store.CreateResponse(ctx, resp)
	if err != nil {
		return conversation.ThreadResponse{}, err
	}

	if taskID != "" {
		binding, err := s.bindings.Get(ctx, taskID)
		if err != nil {
			if !errors.Is(err, task.ErrBindingNotFound) {
				return conversation.ThreadResponse{}, err
			}
			binding = task.Binding{TaskID: taskID, Kind: task.KindAsking}
		}
		binding.ThreadID = threadID
		binding.ResponseID = created.ID
		if err := s.bindings.Save(ctx, binding); err != nil {
			return conversation.ThreadResponse{}, err
		}
		s.registerAsking(created.ID, taskID)
	}
	return created, nil
}

func (s *Service) GetThread(ctx context.Context, id int) (conversation.Thread, []conversation.ThreadResponse, error) {
	thread, err := s.store.FindThread(ctx, id)
	if err != nil {
		return conversation.Thread{}, nil, err
	}
	responses, err := s.store.ListResponsesByThread(ctx, id)
	if err != nil {
		return conversation.Thread{}, nil, err
	}
	return thread, responses, nil
}

func (s *Service) ListThreads(ctx context.Context, projectID int) ([]conversation.Thread, error) {
	return s.store.ListThreadsByProject(ctx, projectID)
}

func (s *Service) UpdateThreadSummary(ctx context.Context, id int, summary string) (conversation.Thread, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return conversation.Thread{}, errors.New("summary is required")
	}
	return s.store.UpdateThread(ctx, id, conversation.ThreadPatch{Summary: &summary})
}

// DeleteThread removes the thread and, by cascade, its responses. Any
// in-flight work for the thread is dropped from every tracker: the
// recommendation tracker is keyed by the thread id, the rest by the ids of
// the responses being deleted.
func (s *Service) DeleteThread(ctx context.Context, id int) error {
	responses, err := s.store.ListResponsesByThread(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteThread(ctx, id); err != nil {
		return err
	}
	s.trackers[task.KindRecommendation].Deregister(id)
	for _, r := range responses {
		for kind, t := range s.trackers {
			if kind == task.KindRecommendation {
				continue
			}
			t.Deregister(r.ID)
		}
	}
	return nil
}

func (s *Service) GetResponse(ctx context.Context, id int) (conversation.ThreadResponse, error) {
	return s.store.FindResponse(ctx, id)
}

// resolveHistories collects prior answered exchanges of a thread, newest
// first, bounded by AskHistoryLimit. excludeID skips the response being
// rerun so it cannot appear in its own context.
func (s *Service) resolveHistories(ctx context.Context, threadID, excludeID int) ([]inference.AskHistory, error) {
	responses, err := s.store.ListResponsesByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	histories := make([]inference.AskHistory, 0, s.cfg.AskHistoryLimit)
	for i := len(responses) - 1; i >= 0 && len(histories) < s.cfg.AskHistoryLimit; i-- {
		r := responses[i]
		if r.ID == excludeID || strings.TrimSpace(r.SQL) == "" {
			continue
		}
		histories = append(histories, inference.AskHistory{Question: r.Question, SQL: r.SQL})
	}
	return histories, nil
}

func (s *Service) registerAsking(responseID int, taskID string) {
	s.trackers[task.KindAsking].Register(responseID, &askingJob{
		svc:        s,
		responseID: responseID,
		queryID:    taskID,
		last:       task.StatusUnderstanding,
	})
}

// SetDeployedManifest records the id of the last successfully deployed
// semantics manifest. Previews run against that deployment, so its id
// travels with every preview request.
func (s *Service) SetDeployedManifest(id string) {
	s.mu.Lock()
	s.manifestID = id
	s.mu.Unlock()
}

func (s *Service) deployedManifest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifestID
}

// Tracking reports whether an entity has an outstanding task of the given
// kind. Exposed for the HTTP layer's status endpoints.
func (s *Service) Tracking(kind task.Kind, entityID int) bool {
	t, ok := s.trackers[kind]
	if !ok {
		return false
	}
	return t.Tracking(entityID)
}

func decimalID(id int) string {
	if id == 0 {
		return ""
	}
	return strconv.Itoa(id)
}

func resultErrorMessage(err *inference.ResultError) string {
	if err == nil {
		return ""
	}
	if err.Message != "" {
		return err.Message
	}
	return err.Code
}

// observeStatusChange emits a metric and a telemetry event for every status
// change a poll persists. Terminal statuses get their own metric label and
// event name so completion can be told apart from progress.
func (s *Service) observeStatusChange(kind task.Kind, status task.Status, props map[string]any) {
	if props == nil {
		props = map[string]any{}
	}
	props["status"] = status.Wire()
	if !status.Terminal() {
		s.metrics.ObserveTaskEvent(string(kind), "status_change")
		s.telemetry.SendEvent(string(kind)+"_task_status", props, telemetryService, true)
		return
	}
	s.metrics.ObserveTaskEvent(string(kind), status.Wire())
	s.telemetry.SendEvent(string(kind)+"_task_terminal", props, telemetryService, status == task.StatusFinished)
}

func logSkip(trackerName string, entityID int) {
	log.Printf("%s tracker: entity %d already generating, skipping duplicate submission", trackerName, entityID)
}
