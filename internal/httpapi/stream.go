package httpapi

import (
	"net/http"
	"time"
)

type answerStreamMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// handleAnswerStream upgrades to a websocket and relays the remote streaming
// answer for a response's text answer as it is produced. The stream ends with
// a single "answer_end" frame; remote failures surface as an "error" frame
// before the connection closes.
func (s *Server) handleAnswerStream(w http.ResponseWriter, r *http.Request) {
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
	if resp.AnswerDetail == nil || resp.AnswerDetail.QueryID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "response has no answer to stream")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writeMsg := func(msg answerStreamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	streamErr := s.ai.StreamAnswer(r.Context(), resp.AnswerDetail.QueryID, func(delta string) error {
		return writeMsg(answerStreamMessage{Type: "answer_delta", Content: delta})
	})
	if streamErr != nil {
		_ = writeMsg(answerStreamMessage{Type: "error", Detail: streamErr.Error()})
		return
	}
	_ = writeMsg(answerStreamMessage{Type: "answer_end"})
}
