package router_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/auth"
	"github.com/kiwari-pos/engine/internal/config"
	"github.com/kiwari-pos/engine/internal/logger"
	"github.com/kiwari-pos/engine/internal/notify"
	"github.com/kiwari-pos/engine/internal/reconcile"
	"github.com/kiwari-pos/engine/internal/router"
	"github.com/kiwari-pos/engine/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	log := logger.Discard()
	return router.New(&config.Config{JWTSecret: secret}, router.Deps{
		Cache:  reconcile.NewCache(nil, log),
		Notify: notify.NewEmitter(log, nil),
		Hub:    ws.NewHub(),
		Log:    log,
	})
}

func get(t *testing.T, h http.Handler, path, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if role != "" {
		token, err := auth.GenerateToken(secret, uuid.New(), "hotel-1", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthIsPublic(t *testing.T) {
	rr := get(t, newRouter(t), "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestProtectedRoutes(t *testing.T) {
	h := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/snapshot", "").Code)
	assert.Equal(t, http.StatusForbidden, get(t, h, "/snapshot", "CHEF").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/snapshot", "KITCHEN").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/tables/status", "WAITER").Code)
}

func TestWebSocketRequiresToken(t *testing.T) {
	rr := get(t, newRouter(t), "/ws/views/kitchen", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
