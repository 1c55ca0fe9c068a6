package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hirenest-chat/internal/gateway"
	"hirenest-chat/internal/models"
)

func TestRestInsertQueryUpdate(t *testing.T) {
	env := setupEnv(t, 0)
	token := tokenFor(t, "cust-1", models.RoleCustomer)

	w := env.do(t, http.MethodPost, "/rest/v1/threads", token, gateway.Row{"customer_id": "cust-1", "provider_id": "prov-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	thread := decode[gateway.Row](t, w)
	id, _ := thread["id"].(string)
	require.NotEmpty(t, id)
	assert.NotEmpty(t, thread["created_at"])

	w = env.do(t, http.MethodPost, "/rest/v1/query", token, gateway.Query{
		Collection: gateway.Threads,
		Filters:    []gateway.Filter{gateway.Eq("customer_id", "cust-1")},
	})
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[[]gateway.Row](t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0]["id"])

	w = env.do(t, http.MethodPatch, "/rest/v1/threads", token, gateway.UpdateRequest{
		Filters: []gateway.Filter{gateway.Eq("id", id)},
		Patch:   gateway.Row{"updated_at": "2030-01-01T00:00:00.000000Z"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[gateway.UpdateResponse](t, w).Count)
}

func TestRestQueryEmptyIsArray(t *testing.T) {
	env := setupEnv(t, 0)
	token := tokenFor(t, "cust-1", models.RoleCustomer)

	w := env.do(t, http.MethodPost, "/rest/v1/query", token, gateway.Query{Collection: gateway.Threads})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestRestErrorCodes(t *testing.T) {
	env := setupEnv(t, 0)
	token := tokenFor(t, "cust-1", models.RoleCustomer)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown collection", http.MethodPost, "/rest/v1/query", gateway.Query{Collection: "invoices"}, http.StatusNotFound, gateway.CodeUnknownCollection},
		{"unknown column", http.MethodPost, "/rest/v1/query", gateway.Query{Collection: gateway.Threads, Filters: []gateway.Filter{gateway.Eq("color", "red")}}, http.StatusBadRequest, gateway.CodeUnknownColumn},
		{"constraint", http.MethodPost, "/rest/v1/messages", gateway.Row{"thread_id": "t", "sender_id": "s", "content": "   "}, http.StatusConflict, gateway.CodeRejected},
		{"update without filters", http.MethodPatch, "/rest/v1/threads", gateway.UpdateRequest{Patch: gateway.Row{"updated_at": "x"}}, http.StatusBadRequest, gateway.CodeInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[gateway.ErrorBody](t, w).Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupEnv(t, 0)

	w := env.do(t, http.MethodOptions, "/rest/v1/query", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupEnv(t, 0)

	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
