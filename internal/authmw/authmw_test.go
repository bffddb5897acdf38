package authmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		token    string
		header   string
		wantCode int
	}{
		{"valid token", "secret-token-123", "Bearer secret-token-123", http.StatusOK},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"basic auth", "secret", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"lowercase bearer", "secret", "bearer secret", http.StatusUnauthorized},
		{"no prefix", "secret", "secret", http.StatusUnauthorized},
		{"wrong token", "correct-token", "Bearer wrong-token", http.StatusUnauthorized},
		{"partial match", "correct-token", "Bearer correct", http.StatusUnauthorized},
		{"token with suffix", "correct-token", "Bearer correct-token-extra", http.StatusUnauthorized},
		{"empty bearer token", "correct-token", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := BearerToken(tt.token)(okHandler)

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestBearerToken_DenialHeaders(t *testing.T) {
	t.Parallel()

	h := BearerToken("tok")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if wa := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(wa, "Bearer") {
		t.Errorf("WWW-Authenticate = %q, want Bearer challenge", wa)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"error"`) {
		t.Errorf("body %q is not a JSON error", body)
	}
}

func TestBearerToken_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	var called bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	h := BearerToken("tok")(inner)

	req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Error("inner handler was not called")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}
