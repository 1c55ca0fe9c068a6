package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"hirenest-chat/internal/gateway"
)

// RestHandler exposes the gateway's query, insert and update operations as JSON over HTTP
type RestHandler struct {
	gw  gateway.Gateway
	log *slog.Logger
}

// NewRestHandler creates a new rest handler
func NewRestHandler(gw gateway.Gateway, log *slog.Logger) *RestHandler {
	return &RestHandler{gw: gw, log: log.With("component", "rest")}
}

// Query handles POST /rest/v1/query
func (h *RestHandler) Query(w http.ResponseWriter, r *http.Request) {
	var q gateway.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	rows, err := h.gw.Query(r.Context(), q)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if rows == nil {
		rows = []gateway.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Insert handles POST /rest/v1/{collection}
func (h *RestHandler) Insert(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var row gateway.Row
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil || row == nil {
		badRequest(w, "invalid request body")
		return
	}

	stored, err := h.gw.Insert(r.Context(), collection, row)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// Update handles PATCH /rest/v1/{collection}
func (h *RestHandler) Update(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var req gateway.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	n, err := h.gw.Update(r.Context(), collection, req.Filters, req.Patch)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.UpdateResponse{Count: n})
}
