package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lucamorandi/genbi/internal/asking"
	"github.com/lucamorandi/genbi/internal/conversation"
	"github.com/lucamorandi/genbi/internal/task"
)

type createAskRequest struct {
	Question  string `json:"question"`
	ThreadID  int    `json:"thread_id,omitempty"`
	ProjectID int    `json:"project_id,omitempty"`
}

func (s *Server) handleCreateAsk(w http.ResponseWriter, r *http.Request) {
	var req createAskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	taskID, err := s.service.CreateAskingTask(r.Context(), asking.CreateAskRequest{
		Question:  req.Question,
		ThreadID:  req.ThreadID,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"query_id": taskID})
}

func (s *Server) handleCancelAsk(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.service.CancelAskingTask(r.Context(), taskID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"query_id": taskID, "status": task.StatusStopped.Wire()})
}

type createThreadRequest struct {
	Question  string `json:"question"`
	ProjectID int    `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

type threadDetailResponse struct {
	Thread              conversation.Thread           `json:"thread"`
	Responses           []conversation.ThreadResponse `json:"responses"`
	GeneratingQuestions bool                          `json:"generating_questions"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	thread, resp, err := s.service.CreateThread(r.Context(), asking.CreateThreadRequest{
		ProjectID: req.ProjectID,
		Question:  req.Question,
		TaskID:    req.TaskID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, threadDetailResponse{
		Thread:    thread,
		Responses: []conversation.ThreadResponse{resp},
	})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	projectID, _ := strconv.Atoi(r.URL.Query().Get("project_id"))
	threads, err := s.service.ListThreads(r.Context(), projectID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	thread, responses, err := s.service.GetThread(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, threadDetailResponse{
		Thread:              thread,
		Responses:           responses,
		GeneratingQuestions: s.service.Tracking(task.KindRecommendation, id),
	})
}

type updateThreadRequest struct {
	Summary string `json:"summary"`
}

func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req updateThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	thread, err := s.service.UpdateThreadSummary(r.Context(), id, req.Summary)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, thread)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.service.DeleteThread(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createResponseRequest struct {
	Question string `json:"question"`
	TaskID   string `json:"task_id,omitempty"`
}

func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req createResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := s.service.CreateThreadResponse(r.Context(), id, asking.CreateResponseRequest{
		Question: req.Question,
		TaskID:   req.TaskID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// handleGenerateRecommendations is idempotent while a generation is in
// flight: repeated triggers for the same thread are accepted and skipped.
func (s *Server) handleGenerateRecommendations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.service.GenerateThreadRecommendationQuestions(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"thread_id": id, "status": task.StatusGenerating.Wire()})
}
