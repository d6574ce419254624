// README: Tests for auth, request id and recovery middleware.
package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"trigo/internal/http/middleware"
	"trigo/internal/infra"
	"trigo/internal/logging"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	id  *infra.Identity
	err error
}

func (s *stubVerifier) VerifyToken(_ context.Context, _ string) (*infra.Identity, error) {
	return s.id, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerUID(c), "role": middleware.CallerRole(c)})
	})
	r.GET("/driver-only", middleware.RequireRole(middleware.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		header   string
	}{
		{"missing header", &stubVerifier{id: &infra.Identity{UID: "u1"}}, ""},
		{"wrong scheme", &stubVerifier{id: &infra.Identity{UID: "u1"}}, "Token abc"},
		{"empty token", &stubVerifier{id: &infra.Identity{UID: "u1"}}, "Bearer  "},
		{"verifier error", &stubVerifier{err: errors.New("bad token")}, "Bearer abc"},
		{"empty uid", &stubVerifier{id: &infra.Identity{}}, "Bearer abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(newTestRouter(tc.verifier), "/test", tc.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestAuth_PopulatesIdentity(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: &infra.Identity{UID: "driver123", Role: "driver"}})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["uid"] != "driver123" || body["role"] != "driver" {
		t.Fatalf("unexpected identity %v", body)
	}
}

func TestAuth_DefaultsToPassengerRole(t *testing.T) {
	r := newTestRouter(&stubVerifier{id: &infra.Identity{UID: "passenger456"}})
	w := get(r, "/test", "Bearer validtoken")
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["role"] != middleware.RolePassenger {
		t.Fatalf("expected passenger role, got %q", body["role"])
	}
	if w := get(r, "/driver-only", "Bearer validtoken"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for passenger on driver route, got %d", w.Code)
	}
}

func TestAuth_WithJWTVerifier(t *testing.T) {
	const secret = "test-secret"
	r := newTestRouter(infra.NewJWTVerifier(secret))
	token, err := infra.SignToken(secret, "d1", "driver", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if w := get(r, "/driver-only", "Bearer "+token); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	other, _ := infra.SignToken("other-secret", "d1", "driver", time.Minute)
	if w := get(r, "/driver-only", "Bearer "+other); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, middleware.GetRequestID(c)) })

	w := get(r, "/id", "")
	generated := w.Header().Get(middleware.HeaderRequestID)
	if generated == "" || w.Body.String() != generated {
		t.Fatalf("expected generated id echoed, header=%q body=%q", generated, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set(middleware.HeaderRequestID, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get(middleware.HeaderRequestID) != "abc-123" {
		t.Fatalf("expected incoming id reused, got %q", w.Header().Get(middleware.HeaderRequestID))
	}
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(logging.Discard()), middleware.Logging(logging.Discard()), middleware.Metrics())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := get(r, "/boom", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
