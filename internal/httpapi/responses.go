package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/lucamorandi/genbi/internal/asking"
	"github.com/lucamorandi/genbi/internal/conversation"
)

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := s.service.GetResponse(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRerunResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	taskID, err := s.service.RerunAskingTask(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"query_id": taskID})
}

func (s *Server) handleGenerateBreakdown(w http.ResponseWriter, r *http.Request) {
	s.handleResponseOp(w, r, s.service.GenerateThreadResponseBreakdown)
}

func (s *Server) handleGenerateAnswer(w http.ResponseWriter, r *http.Request) {
	s.handleResponseOp(w, r, s.service.GenerateThreadResponseAnswer)
}

func (s *Server) handleGenerateChart(w http.ResponseWriter, r *http.Request) {
	s.handleResponseOp(w, r, s.service.GenerateThreadResponseChart)
}

type adjustChartRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleAdjustChart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req adjustChartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := s.service.AdjustThreadResponseChart(r.Context(), id, asking.AdjustChartRequest{Command: req.Command})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}

type adjustSQLRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleAdjustWithSQL(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req adjustSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := s.service.AdjustThreadResponseWithSQL(r.Context(), id, req.SQL)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

type adjustReasoningRequest struct {
	Reasoning string `json:"reasoning"`
}

func (s *Server) handleAdjustAnswer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req adjustReasoningRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := s.service.AdjustThreadResponseAnswer(r.Context(), id, asking.AdjustAnswerRequest{Reasoning: req.Reasoning})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

type previewRequest struct {
	StepIndex *int `json:"step_index,omitempty"`
	Limit     int  `json:"limit,omitempty"`
}

func (s *Server) handlePreviewData(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.service.PreviewData(r.Context(), id, req.Limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handlePreviewBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.service.PreviewBreakdownData(r.Context(), id, req.StepIndex, req.Limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type responseOp func(ctx context.Context, responseID int) (conversation.ThreadResponse, error)

func (s *Server) handleResponseOp(w http.ResponseWriter, r *http.Request, op responseOp) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	resp, err := op(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, resp)
}
