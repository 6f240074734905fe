// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, caller identity, structured access
// logging and panic recovery:
//
//   - RequestID() reuses or generates X-Request-ID and stores it in the context.
//   - Identity() reads the X-User-ID header used for per-user read tracking
//     and rate limiting.
//   - Logger() emits one access log line per request and attaches a
//     request-scoped zerolog.Logger under the "logger" context key. Search
//     text and e-mail addresses in the query string are redacted, since
//     queries routinely quote message content.
//   - Recovery() turns panics into JSON 500 responses.
//
// Recommended order: RequestID, Identity, Logger, Recovery.
package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// UserIDKey is the context key holding the caller's user id.
	UserIDKey    = "userID"
	userIDHeader = "X-User-ID"

	maxQueryLogLength = 2048
	redacted          = "[REDACTED]"
)

// Query parameters whose values are message text.
var sensitiveParams = map[string]struct{}{"q": {}, "query": {}, "prefix": {}}

var emailRE = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a UUIDv4 is generated. The
// id is echoed in the response header.
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

// Identity stores the trimmed X-User-ID header under UserIDKey when present.
// There is no authentication; the header only scopes read tracking.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(userIDHeader)); uid != "" {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	}
}

// UserID returns the caller id stored by Identity, or "".
func UserID(c *gin.Context) string {
	v, _ := c.Get(UserIDKey)
	return asString(v)
}

// Logger writes a structured access log for each request.
//
// The level follows the outcome: error for 5xx or when handlers recorded gin
// errors, warn for 4xx, info otherwise. Place it after RequestID so every
// line carries the correlation id.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		l := log.With().
			Str("component", "http").
			Str("request_id", asString(rid)).
			Str("user_id", UserID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("query", truncate(redactQuery(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength).
			Logger()
		c.Set("logger", &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.With().
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery intercepts panics, logs the stack and answers with the standard
// JSON 500 envelope unless a response was already written.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", asString(rid)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// redactQuery masks the values of text-bearing parameters and any e-mail
// address left in the raw query string.
func redactQuery(raw string) string {
	if raw == "" {
		return raw
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return emailRE.ReplaceAllString(raw, redacted)
	}
	for k, vs := range vals {
		if _, ok := sensitiveParams[strings.ToLower(k)]; ok {
			for i := range vs {
				vs[i] = redacted
			}
			continue
		}
		for i, v := range vs {
			vs[i] = emailRE.ReplaceAllString(v, redacted)
		}
	}
	out, _ := url.QueryUnescape(vals.Encode())
	return out
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
