// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the correlation id, the access logger and panic recovery:
//
//   - RequestID() propagates X-Request-ID or generates a UUID.
//   - Logger() builds a request-scoped zerolog.Logger, stores it in the Gin
//     context (key "logger") and in the request context, and writes one access
//     line per request at a level chosen by outcome.
//   - Recovery() turns panics into a JSON 500 when nothing was written yet.
//     Streaming responses that already sent headers are simply aborted.
//
// Recommended order: RequestID, Logger, Recovery, then Auth.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// LogOptions configures Logger.
type LogOptions struct {
	// Redact scrubs ids, emails and phone numbers from the query string and
	// header values, and masks sensitive headers entirely.
	Redact bool
	// MaskHeaders lists extra headers whose values are always masked.
	MaskHeaders []string
	// LogHeaders adds the (scrubbed) request headers to the access line.
	LogHeaders bool
}

// RequestID attaches (or propagates) a correlation identifier per request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation id stored by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// Logger writes a structured access log for each request.
//
// The request-scoped logger carries request_id, method, path and remote_ip.
// Auth later adds user_id to it. The access line is emitted at error for 5xx
// or collected Gin errors, warn for 4xx and info otherwise.
func Logger(opts LogOptions) gin.HandlerFunc {
	var red *redactor
	if opts.Redact || opts.LogHeaders {
		red = newRedactor(opts.MaskHeaders)
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := truncate(c.Request.URL.RawQuery, maxQueryLogLength)
		if opts.Redact {
			query = red.scrub(query)
		}

		l := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Logger()
		setLogger(c, &l)

		var headers map[string]string
		if opts.LogHeaders {
			headers = red.headers(c.Request.Header, opts.Redact)
		}

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = lg.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		ev = ev.
			Str("query", query).
			Str("user_agent", c.Request.UserAgent()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size())
		if headers != nil {
			ev = ev.Interface("headers", headers)
		}
		ev.Msg("request")
	}
}

// setLogger stores l in the Gin context and in the request context so that
// services can use zerolog.Ctx.
func setLogger(c *gin.Context, l *zerolog.Logger) {
	c.Set(loggerKey, l)
	c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
}

// Recovery intercepts panics, logs a stack trace, and returns a JSON 500 error
// when the response has not started.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() did not run. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// abortJSON writes the standard error envelope and stops the chain.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
