package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lucamorandi/genbi/internal/asking"
	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/inference"
	"github.com/lucamorandi/genbi/internal/observability"
	"github.com/lucamorandi/genbi/internal/task"
)

// KnowledgeClient is the slice of the AI service contract the HTTP layer
// calls directly, without orchestration: streaming, knowledge-base writes,
// SQL-question generation, and deploys.
type KnowledgeClient interface {
	StreamAnswer(ctx context.Context, queryID string, onDelta inference.DeltaHandler) error
	CreateSQLPair(ctx context.Context, pair inference.SQLPair) error
	CreateInstruction(ctx context.Context, instr inference.Instruction) error
	SubmitSQLQuestions(ctx context.Context, req inference.SQLQuestionsRequest) (string, error)
	FetchSQLQuestionsResult(ctx context.Context, queryID string) (inference.SQLQuestionsResult, error)
	Deploy(ctx context.Context, req inference.DeployRequest) (string, error)
	WaitForDeploy(ctx context.Context, deployID string) inference.DeployResult
}

type Server struct {
	service  *asking.Service
	ai       KnowledgeClient
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(service *asking.Service, ai KnowledgeClient, metrics *observability.Metrics) *Server {
	return &Server{
		service: service,
		ai:      ai,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open the answer stream; clients
				// without an Origin header (curl, server-side) pass.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/asks", s.handleCreateAsk)
	r.Post("/v1/asks/{taskID}/cancel", s.handleCancelAsk)

	r.Post("/v1/threads", s.handleCreateThread)
	r.Get("/v1/threads", s.handleListThreads)
	r.Get("/v1/threads/{id}", s.handleGetThread)
	r.Patch("/v1/threads/{id}", s.handleUpdateThread)
	r.Delete("/v1/threads/{id}", s.handleDeleteThread)
	r.Post("/v1/threads/{id}/responses", s.handleCreateResponse)
	r.Post("/v1/threads/{id}/recommendations", s.handleGenerateRecommendations)

	r.Get("/v1/thread-responses/{id}", s.handleGetResponse)
	r.Post("/v1/thread-responses/{id}/rerun", s.handleRerunResponse)
	r.Post("/v1/thread-responses/{id}/breakdown", s.handleGenerateBreakdown)
	r.Post("/v1/thread-responses/{id}/answer", s.handleGenerateAnswer)
	r.Get("/v1/thread-responses/{id}/answer/ws", s.handleAnswerStream)
	r.Post("/v1/thread-responses/{id}/chart", s.handleGenerateChart)
	r.Post("/v1/thread-responses/{id}/chart/adjust", s.handleAdjustChart)
	r.Post("/v1/thread-responses/{id}/adjust/sql", s.handleAdjustWithSQL)
	r.Post("/v1/thread-responses/{id}/adjust/reasoning", s.handleAdjustAnswer)
	r.Post("/v1/thread-responses/{id}/preview", s.handlePreviewData)
	r.Post("/v1/thread-responses/{id}/breakdown/preview", s.handlePreviewBreakdown)

	r.Post("/v1/sql-pairs", s.handleCreateSQLPair)
	r.Post("/v1/instructions", s.handleCreateInstruction)
	r.Post("/v1/sql-questions", s.handleSubmitSQLQuestions)
	r.Get("/v1/sql-questions/{queryID}", s.handleGetSQLQuestions)
	r.Post("/v1/deploys", s.handleDeploy)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondServiceError maps domain errors onto HTTP statuses: missing entities
// are 404, remote AI-service failures are 502, everything else is treated as
// a bad request.
func respondServiceError(w http.ResponseWriter, err error) {
	var remote *inference.RemoteError
	switch {
	case errors.Is(err, conversation.ErrThreadNotFound),
		errors.Is(err, conversation.ErrResponseNotFound),
		errors.Is(err, task.ErrBindingNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &remote):
		respondError(w, http.StatusBadGateway, "ai_service_error", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	}
}

func pathID(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id in path")
	}
	return id, nil
}
