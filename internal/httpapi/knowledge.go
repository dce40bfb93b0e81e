package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lucamorandi/genbi/internal/inference"
	"github.com/lucamorandi/genbi/internal/task"
)

// Knowledge-base passthroughs. These endpoints forward to the AI service
// without orchestration state of their own; the only local concern is id
// formatting and error mapping.

type sqlPairRequest struct {
	Question  string `json:"question"`
	SQL       string `json:"sql"`
	ProjectID int    `json:"project_id,omitempty"`
}

func (s *Server) handleCreateSQLPair(w http.ResponseWriter, r *http.Request) {
	var req sqlPairRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.SQL) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "question and sql are required")
		return
	}
	err := s.ai.CreateSQLPair(r.Context(), inference.SQLPair{
		Question:  req.Question,
		SQL:       req.SQL,
		ProjectID: projectIDString(req.ProjectID),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type instructionRequest struct {
	Instruction string   `json:"instruction"`
	Questions   []string `json:"questions,omitempty"`
	IsDefault   bool     `json:"is_default,omitempty"`
	ProjectID   int      `json:"project_id,omitempty"`
}

func (s *Server) handleCreateInstruction(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "instruction is required")
		return
	}
	err := s.ai.CreateInstruction(r.Context(), inference.Instruction{
		Instruction: req.Instruction,
		Questions:   req.Questions,
		IsDefault:   req.IsDefault,
		ProjectID:   projectIDString(req.ProjectID),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sqlQuestionsRequest struct {
	SQLs      []string `json:"sqls"`
	ProjectID int      `json:"project_id,omitempty"`
}

func (s *Server) handleSubmitSQLQuestions(w http.ResponseWriter, r *http.Request) {
	var req sqlQuestionsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.SQLs) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "at least one sql is required")
		return
	}
	queryID, err := s.ai.SubmitSQLQuestions(r.Context(), inference.SQLQuestionsRequest{
		SQLs:      req.SQLs,
		ProjectID: projectIDString(req.ProjectID),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"query_id": queryID})
}

func (s *Server) handleGetSQLQuestions(w http.ResponseWriter, r *http.Request) {
	queryID := strings.TrimSpace(chi.URLParam(r, "queryID"))
	if queryID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing query id")
		return
	}
	res, err := s.ai.FetchSQLQuestionsResult(r.Context(), queryID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	body := map[string]any{
		"query_id":  queryID,
		"status":    res.Status.Wire(),
		"questions": res.Questions,
	}
	if res.Error != nil {
		body["error"] = res.Error
	}
	respondJSON(w, http.StatusOK, body)
}

type deployRequest struct {
	Manifest  json.RawMessage `json:"mdl"`
	Hash      string          `json:"mdl_hash"`
	ProjectID int             `json:"project_id,omitempty"`
}

// handleDeploy submits a semantics preparation and blocks until the remote
// side reports a terminal status or the bounded wait gives up with a failed
// result.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(req.Manifest) == 0 || strings.TrimSpace(req.Hash) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "mdl and mdl_hash are required")
		return
	}
	deployID, err := s.ai.Deploy(r.Context(), inference.DeployRequest{
		Manifest:  req.Manifest,
		Hash:      req.Hash,
		ProjectID: projectIDString(req.ProjectID),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	result := s.ai.WaitForDeploy(r.Context(), deployID)
	s.metrics.ObserveTaskEvent(string(task.KindDeploy), result.Status.Wire())

	status := http.StatusOK
	if result.Status == task.StatusFinished {
		s.service.SetDeployedManifest(deployID)
	} else {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, map[string]any{
		"deploy_id": deployID,
		"status":    result.Status.Wire(),
		"error":     result.Error,
	})
}

func projectIDString(id int) string {
	if id == 0 {
		return ""
	}
	return strconv.Itoa(id)
}
