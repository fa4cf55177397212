package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"exovision/llm"
	"exovision/monitoring"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		monitoring.RecordChat("bad_request")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := validate(req); err != nil {
		monitoring.RecordChat("bad_request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.deps.Chat.Chat(r.Context(), req.Message)
	if err != nil {
		status, msg := chatStatus(err)
		s.log.Warn("chat failed", zap.Error(err), zap.Int("status", status),
			zap.String("request_id", GetRequestID(r.Context())))
		monitoring.RecordChat(strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")))
		writeError(w, status, msg)
		return
	}

	monitoring.RecordChat("ok")
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func chatStatus(err error) (int, string) {
	switch {
	case errors.Is(err, llm.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, llm.ErrNotConfigured):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "the chat provider timed out"
	default:
		return http.StatusBadGateway, "the chat provider failed to answer"
	}
}
