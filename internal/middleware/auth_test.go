package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/auth"
	"github.com/kiwari-pos/engine/internal/middleware"
)

const testSecret = "test-secret"

func TestAuthMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	token, _ := auth.GenerateToken(testSecret, userID, "hotel-1", "CASHIER")

	handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("expected claims in context")
		}
		if claims.UserID != userID {
			t.Errorf("user ID: got %v, want %v", claims.UserID, userID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"invalid token", "Bearer invalid-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.Authenticate(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireKnownRole(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{"KITCHEN", http.StatusOK},
		{"OWNER", http.StatusOK},
		{"JANITOR", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, _ := auth.GenerateToken(testSecret, uuid.New(), "hotel-1", tt.role)
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			handler := middleware.Authenticate(testSecret)(middleware.RequireKnownRole(inner))

			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRequireKnownRole_NoClaims(t *testing.T) {
	handler := middleware.RequireKnownRole(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := middleware.Authenticate(testSecret)(middleware.RequireRole("OWNER", "MANAGER")(inner))

	tests := []struct {
		role string
		want int
	}{
		{"CASHIER", http.StatusForbidden},
		{"MANAGER", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			token, _ := auth.GenerateToken(testSecret, uuid.New(), "hotel-1", tt.role)
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
