package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
)

func TestAuthorization_HasRole(t *testing.T) {
	auth := &Authorization{Roles: []string{"admin", "operator"}}
	if !auth.HasRole("admin") || !auth.HasRole("operator") {
		t.Fatal("roles not found")
	}
	if auth.HasRole("viewer") {
		t.Fatal("unexpected role")
	}

	// nil authorizations have no roles
	auth = nil
	if auth.HasRole("admin") {
		t.Fatal("nil authorization has a role")
	}
}

func TestAuthorization_Context(t *testing.T) {
	if AuthorizationFromContext(context.Background()) != nil {
		t.Fatal("empty context carries an authorization")
	}
	auth := &Authorization{Roles: []string{"admin"}}
	ctx := ContextWithAuthorization(context.Background(), auth)
	if AuthorizationFromContext(ctx) != auth {
		t.Fatal("authorization did not survive the context")
	}
}

func newProbeRouter(captured **Authorization) *mux.Router {
	router := mux.NewRouter()
	router.Use(NewTokenMiddleware(&TokenMiddlewareBuilder{AdminToken: "magic"}))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		*captured = AuthorizationFromContext(r.Context())
	})
	return router
}

func TestTokenMiddleware_AdminToken(t *testing.T) {
	var captured *Authorization
	router := newProbeRouter(&captured)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer magic")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if !captured.HasRole("admin") {
		t.Fatal("admin token did not grant the admin role")
	}
	if identity, _ := captured.Property("identity"); identity != "admin" {
		t.Fatalf("got identity %s", identity)
	}
}

func TestTokenMiddleware_Cookie(t *testing.T) {
	var captured *Authorization
	router := newProbeRouter(&captured)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: "SchemaForge-JWT", Value: "magic"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if !captured.HasRole("admin") {
		t.Fatal("cookie token did not grant the admin role")
	}
}

func TestTokenMiddleware_JWT(t *testing.T) {
	var captured *Authorization
	router := newProbeRouter(&captured)

	claims := tokenClaims{
		Roles: []string{"operator"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "worker@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("magic"))
	if err != nil {
		t.Fatal(err)
	}

	// twice, the second request is served from the cache
	for i := 0; i < 2; i++ {
		captured = nil
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d", rec.Code)
		}
		if !captured.HasRole("operator") || captured.HasRole("admin") {
			t.Fatal("token did not grant exactly the operator role")
		}
		if identity, _ := captured.Property("identity"); identity != "worker@example.com" {
			t.Fatalf("got identity %s", identity)
		}
	}
}

func TestTokenMiddleware_InvalidToken(t *testing.T) {
	var captured *Authorization
	router := newProbeRouter(&captured)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		tokenClaims{Roles: []string{"admin"}}).SignedString([]byte("wrong secret"))
	if err != nil {
		t.Fatal(err)
	}

	for _, token := range []string{forged, "nonsense"} {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("got status %d for token %s", rec.Code, token)
		}
		if captured != nil {
			t.Fatal("invalid token reached the handler")
		}
	}
}

func TestTokenMiddleware_NoToken(t *testing.T) {
	captured := &Authorization{}
	router := newProbeRouter(&captured)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if captured != nil {
		t.Fatal("request without token carries an authorization")
	}
}

func TestHandleAuthorizationRoute(t *testing.T) {
	router := mux.NewRouter()
	router.Use(NewTokenMiddleware(&TokenMiddlewareBuilder{AdminToken: "magic"}))
	HandleAuthorizationRoute(router)

	req := httptest.NewRequest(http.MethodGet, "/authorization", nil)
	req.Header.Set("Authorization", "Bearer magic")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "admin") {
		t.Fatal("authorization route did not return the roles")
	}

	req = httptest.NewRequest(http.MethodGet, "/authorization", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d", rec.Code)
	}
}
