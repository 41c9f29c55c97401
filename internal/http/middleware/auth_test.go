package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func authRouter(opts AuthOptions) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{}), Auth(opts))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	r.GET("/private", RequireUser(), func(c *gin.Context) { c.String(http.StatusOK, "hi "+UserID(c)) })
	return r
}

func TestAuth_Sources(t *testing.T) {
	captureLogger(t)
	r := authRouter(AuthOptions{JWTSecret: testSecret, CookieName: "session", DevHeader: true})
	valid := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "u1"})

	cases := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) }, "u1"},
		{"bearer lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+valid) }, "u1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: valid}) }, "u1"},
		{"dev header", func(r *http.Request) { r.Header.Set(HeaderUserID, " dev-7 ") }, "dev-7"},
		{"bearer wins over dev header", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+valid)
			r.Header.Set(HeaderUserID, "dev-7")
		}, "u1"},
		{"invalid bearer is anonymous", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not-a-jwt")
			r.Header.Set(HeaderUserID, "dev-7")
		}, ""},
		{"basic scheme ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic dTE6cHc=") }, ""},
		{"nothing", func(*http.Request) {}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			tc.setup(req)
			if got := serve(r, req).Body.String(); got != tc.want {
				t.Fatalf("user = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	captureLogger(t)
	r := authRouter(AuthOptions{JWTSecret: testSecret})

	expired := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "u1"})
	wrongAlg := signToken(t, jwt.SigningMethodHS512, testSecret, jwt.RegisteredClaims{Subject: "u1"})

	for name, tok := range map[string]string{"expired": expired, "wrong key": wrongKey, "wrong alg": wrongAlg} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		if got := serve(r, req).Body.String(); got != "" {
			t.Fatalf("%s: user = %q; want anonymous", name, got)
		}
	}
}

func TestAuth_DevHeaderDisabled(t *testing.T) {
	captureLogger(t)
	r := authRouter(AuthOptions{JWTSecret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderUserID, "dev-7")
	if got := serve(r, req).Body.String(); got != "" {
		t.Fatalf("dev header honoured while disabled: %q", got)
	}
}

func TestAuth_NoSecretRejectsTokens(t *testing.T) {
	captureLogger(t)
	r := authRouter(AuthOptions{DevHeader: true})
	tok := signToken(t, jwt.SigningMethodHS256, []byte("x"), jwt.RegisteredClaims{Subject: "u1"})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	if got := serve(r, req).Body.String(); got != "" {
		t.Fatalf("user = %q; want anonymous", got)
	}
}

func TestRequireUser_401EmptyBody(t *testing.T) {
	captureLogger(t)
	r := authRouter(AuthOptions{DevHeader: true})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/private", nil))
	if w.Code != http.StatusUnauthorized || w.Body.Len() != 0 {
		t.Fatalf("got %d %q; want 401 with empty body", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(HeaderUserID, "u9")
	if w := serve(r, req); w.Code != http.StatusOK || w.Body.String() != "hi u9" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestAuth_AddsUserIDToAccessLog(t *testing.T) {
	buf := captureLogger(t)
	r := authRouter(AuthOptions{DevHeader: true})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderUserID, "u-log")
	serve(r, req)
	if !strings.Contains(buf.String(), `"user_id":"u-log"`) {
		t.Fatalf("access log missing user_id:\n%s", buf.String())
	}
}
