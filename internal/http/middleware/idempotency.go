// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for unsafe requests. The
// middleware validates the header, namespaces it with a per-route scope, asks
// a lookup whether the same (user, scope, key) already produced a resource,
// and annotates the Gin context:
//   - GetIdempotencyKey / IdempotencyScope for handlers storing new results
//   - ReplayResourceID when a previous result can be replayed
//   - a rate-limit bypass flag so replays do not consume tokens
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemScope  = "idem.scope"
	ctxKeyIdemReplay = "idem.replay" // string: resource id of the stored result
	ctxKeyRateBypass = "rate.bypass" // bool: skip rate limiting
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Scope derives the key namespace from the request. Defaults to
	// "METHOD route".
	Scope func(c *gin.Context) string
}

// IdempotencyLookup returns the id of the resource a previous request with
// (userID, scope, key) produced, if that record is still valid at now.
// Errors are logged and treated as "not found".
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (resourceID string, found bool, err error)

// GetIdempotencyKey returns the validated key stored by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := ctxString(c, ctxKeyIdemKey)
	return s, s != ""
}

// IdempotencyScope returns the scope computed for this request.
func IdempotencyScope(c *gin.Context) string {
	return ctxString(c, ctxKeyIdemScope)
}

// ReplayResourceID returns the resource produced by an earlier request with
// the same key, and whether such a replay exists.
func ReplayResourceID(c *gin.Context) (string, bool) {
	s := ctxString(c, ctxKeyIdemReplay)
	return s, s != ""
}

// IdempotencyValidator validates the Idempotency-Key header when present.
// Invalid keys get a 400; valid ones are stashed and looked up. Requests
// without the header pass through untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = func(c *gin.Context) string { return c.Request.Method + " " + c.FullPath() }
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}

		scope := scopeOf(c)
		c.Set(ctxKeyIdemKey, key)
		c.Set(ctxKeyIdemScope, scope)

		if uid := UserID(c); lookup != nil && uid != "" {
			id, found, err := lookup(c.Request.Context(), uid, scope, key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
			case found:
				c.Set(ctxKeyIdemReplay, id)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

func ctxString(c *gin.Context, key string) string {
	v, _ := c.Get(key)
	return asString(v)
}
