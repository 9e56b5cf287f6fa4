package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateStaticTokens(t *testing.T) {
	t.Setenv("RELIEF_OPS_TOKEN", "from-env")
	svc, err := NewService("static", []string{"literal-token", "env:RELIEF_OPS_TOKEN"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cases := []struct {
		header  string
		wantErr error
	}{
		{"Bearer literal-token", nil},
		{"bearer from-env", nil},
		{"", ErrMissingToken},
		{"Bearer wrong", ErrInvalidToken},
		{"Basic literal-token", ErrInvalidToken},
	}
	for _, tc := range cases {
		if err := svc.Authenticate(tc.header); err != tc.wantErr {
			t.Fatalf("Authenticate(%q) = %v, want %v", tc.header, err, tc.wantErr)
		}
	}
}

func TestNewServiceRejectsEmptyStatic(t *testing.T) {
	if _, err := NewService("static", []string{"env:RELIEF_UNSET_TOKEN"}); err == nil {
		t.Fatal("expected error when no token resolves")
	}
}

func TestDisabledServicePassesThrough(t *testing.T) {
	svc, err := NewService("disabled", nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("disabled service must not be enabled")
	}
	if err := svc.Authenticate(""); err != nil {
		t.Fatalf("disabled service must accept any request: %v", err)
	}
}

func TestMiddlewareProtectsOnlyListedMethods(t *testing.T) {
	svc, err := NewService("static", []string{"secret"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler := svc.Middleware(http.MethodPost)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	get := httptest.NewRecorder()
	handler.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/status", nil))
	if get.Code != http.StatusNoContent {
		t.Fatalf("GET should bypass auth, got %d", get.Code)
	}

	post := httptest.NewRecorder()
	handler.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/simulate", nil))
	if post.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated POST should be rejected, got %d", post.Code)
	}

	authed := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/simulate", nil)
	req.Header.Set("Authorization", "Bearer secret")
	handler.ServeHTTP(authed, req)
	if authed.Code != http.StatusNoContent {
		t.Fatalf("authenticated POST should pass, got %d", authed.Code)
	}
}
