package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hirenest-chat/internal/chat"
	"hirenest-chat/internal/db"
	"hirenest-chat/internal/gateway/sqlgw"
	"hirenest-chat/internal/logger"
	"hirenest-chat/internal/models"
	"hirenest-chat/internal/session"
)

const testSecret = "api-test-secret"

type testEnv struct {
	gw     *sqlgw.Gateway
	router *Router
}

func setupEnv(t *testing.T, sendRPS float64) *testEnv {
	t.Helper()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate(db.Schema{ThreadViews: true}))

	for _, p := range []models.Profile{
		{ID: "cust-1", FullName: "Cathy Customer", Role: models.RoleCustomer},
		{ID: "prov-1", FullName: "Pat Plumber", Role: models.RoleServiceProvider},
		{ID: "prov-2", FullName: "Eve Electric", Role: models.RoleServiceProvider},
	} {
		require.NoError(t, database.UpsertProfile(p))
	}

	gw := sqlgw.New(database, nil, logger.Discard())
	router := NewRouter(gw, Options{
		JWTSecret:    testSecret,
		ThreadPolicy: chat.AllowDuplicates,
		SendRPS:      sendRPS,
		Logger:       logger.Discard(),
	})
	return &testEnv{gw: gw, router: router}
}

func tokenFor(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	token, err := session.Issue(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends an authenticated request through the router and returns the recorder
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), "body: %s", w.Body.String())
	return v
}

func (e *testEnv) ensure(t *testing.T, token, providerID string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/threads/ensure", token, EnsureThreadRequest{ProviderID: providerID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[EnsureThreadResponse](t, w).ThreadID
}
