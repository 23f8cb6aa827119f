package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestVerifyJWTRoundTrip(t *testing.T) {
	token, err := SignJWT("secret", TokenClaims{Sub: "U1", Locale: "id", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	claims, err := VerifyJWT("secret", token)
	if err != nil {
		t.Fatalf("VerifyJWT: %v", err)
	}
	if claims.Sub != "U1" || claims.Locale != "id" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if _, err := VerifyJWT("other", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyJWTRejectsExpiredAndAnonymous(t *testing.T) {
	expired, _ := SignJWT("secret", TokenClaims{Sub: "U1", Exp: time.Now().Add(-time.Minute).Unix()})
	if _, err := VerifyJWT("secret", expired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	anonymous, _ := SignJWT("secret", TokenClaims{})
	if _, err := VerifyJWT("secret", anonymous); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{name: "header", header: "Bearer abc", target: "/", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", target: "/", want: "abc"},
		{name: "query fallback", target: "/ws?token=xyz", want: "xyz"},
		{name: "header wins over query", header: "Bearer abc", target: "/ws?token=xyz", want: "abc"},
		{name: "wrong scheme", header: "Basic abc", target: "/ws?token=xyz", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if got := BearerToken(req); got != tc.want {
				t.Fatalf("BearerToken() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	var seen string
	handler := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"unauthorized"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	token, _ := SignJWT("secret", TokenClaims{Sub: "U1"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || seen != "U1" {
		t.Fatalf("status = %d user = %q", rec.Code, seen)
	}
}
