// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for message submission. The
// key is validated and stashed in the request context; handlers turn it
// into a deterministic message id with IdempotentID, so a retried POST maps
// onto the message the first attempt created and the store's primary key
// rejects the duplicate.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const ctxKeyIdemKey = "idem.key"

// idemNamespace seeds the name-based (v5) ids derived from keys.
var idemNamespace = uuid.MustParse("6f1c7a52-3d0e-4f59-9a43-2b8e61c4d7a0")

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyOptions configures IdempotencyKey.
type IdempotencyOptions struct {
	MaxLen  int            // defaults to 200
	Pattern *regexp.Regexp // defaults to ^[A-Za-z0-9._~\-:]+$
}

// GetIdempotencyKey returns the validated key stashed by IdempotencyKey.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IdempotencyKey validates the Idempotency-Key header when present and
// stashes it for GetIdempotencyKey. Invalid keys get 400
// bad_idempotency_key; requests without the header pass through untouched.
func IdempotencyKey(opts IdempotencyOptions) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)
		c.Next()
	}
}

// IdempotentID derives a stable message id from the caller and key. Keys are
// scoped per user: two users sending the same key get different ids.
func IdempotentID(userID, key string) string {
	return uuid.NewSHA1(idemNamespace, []byte(userID+"\x00"+key)).String()
}
