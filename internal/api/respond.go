package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response failed", "component", "http", "error", err)
	}
}

// errorStatus classifies err into an HTTP status and a wire code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, chat.ErrNotParticipant):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, chat.ErrThreadNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, chat.ErrEmptyContent), errors.Is(err, chat.ErrInvalidPair):
		return http.StatusBadRequest, gateway.CodeInvalidQuery
	}
	if code := gateway.CodeOf(err); code != "" {
		return gateway.HTTPStatus(code), code
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "error", err)
	} else {
		log.Debug("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, gateway.ErrorBody{Code: code, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, gateway.ErrorBody{Code: gateway.CodeInvalidQuery, Message: message})
}
