package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey = "userID"

	// HeaderUserID carries the caller identity in development mode.
	HeaderUserID = "X-User-ID"
)

// AuthOptions configures how the caller identity is established.
//
// Identities are taken, in order, from an "Authorization: Bearer <jwt>"
// header, from the session cookie (same JWT), and, when DevHeader is set,
// from the X-User-ID header. Tokens must be HS256-signed with JWTSecret and
// carry the user id in "sub".
type AuthOptions struct {
	JWTSecret  []byte
	CookieName string
	DevHeader  bool
}

// Auth resolves the caller identity and stores it under "userID". It never
// rejects a request; use RequireUser on routes that need an identity. An
// invalid token is treated as no identity.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := identify(c.Request, opts)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("ignoring invalid credentials")
		}
		if uid != "" {
			c.Set(userIDKey, uid)
			l := LoggerFrom(c).With().Str("user_id", uid).Logger()
			setLogger(c, &l)
		}
		c.Next()
	}
}

// RequireUser aborts with 401 and an empty body when no identity was
// established by Auth.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller, or "".
func UserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}

var errNoSecret = errors.New("auth: token presented but no secret configured")

func identify(r *http.Request, opts AuthOptions) (string, error) {
	if tok, ok := bearerToken(r); ok {
		return subject(tok, opts.JWTSecret)
	}
	if opts.CookieName != "" {
		if ck, err := r.Cookie(opts.CookieName); err == nil && ck.Value != "" {
			return subject(ck.Value, opts.JWTSecret)
		}
	}
	if opts.DevHeader {
		return strings.TrimSpace(r.Header.Get(HeaderUserID)), nil
	}
	return "", nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// subject validates raw and returns its "sub" claim.
func subject(raw string, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errNoSecret
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(claims.Subject), nil
}
