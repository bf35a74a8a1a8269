package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/auth"
	"github.com/kiwari-pos/engine/internal/middleware"
)

const testSecret = "test-secret"

// setupRouter mounts register under prefix behind authentication.
func setupRouter(prefix string, register func(chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(testSecret))
		if prefix == "" {
			register(r)
			return
		}
		r.Route(prefix, register)
	})
	return r
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, uuid.New(), "hotel-1", role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, router http.Handler, method, path, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, role))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
}
