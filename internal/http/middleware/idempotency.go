// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements response replay for unsafe methods carrying an
// Idempotency-Key header. The first completed 2xx response for a
// (scope, key) pair is persisted through an IdempotencyStore; a retry with
// the same key on the same route gets the stored status and body back
// verbatim, with Idempotency-Replayed: true, and the handler does not run.
//
// A retried refresh-daily call therefore never triggers a second channel
// resync while the first answer is still within its TTL.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients use to convey an
// idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed marks a response served from the store.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
)

// GetIdempotencyKey returns the validated key stashed by Idempotency.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the response was served from the store.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// StoredResponse is a previously completed response.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore persists completed responses. Lookup returns (nil, nil)
// when nothing valid is stored.
type IdempotencyStore interface {
	Lookup(ctx context.Context, scope, key string, now time.Time) (*StoredResponse, error)
	Save(ctx context.Context, scope, key string, resp StoredResponse, ttl time.Duration) error
}

// IdempotencyOptions configures Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; defaults to ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// TTL is how long a stored response is replayed. Defaults to 24h.
	TTL time.Duration
	// Now is a test seam.
	Now func() time.Time
}

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// captureWriter tees the response body into a buffer.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// idempotencyScope keys records by method and concrete path, so the same key
// reused for different listings does not collide.
func idempotencyScope(c *gin.Context) string {
	return c.Request.Method + " " + c.Request.URL.Path
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Idempotency validates the Idempotency-Key header and replays or records
// responses through store. Requests without the header, and safe methods,
// pass through untouched. An invalid key is rejected with 400. Store
// failures are logged and never fail the request.
func Idempotency(opts IdempotencyOptions, store IdempotencyStore) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !unsafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)
		if store == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		scope := idempotencyScope(c)
		lg := LoggerFrom(c)

		prev, err := store.Lookup(ctx, scope, key, now().UTC())
		if err != nil {
			lg.Warn().Err(err).Msg("idempotency lookup failed")
		}
		if prev != nil {
			c.Set(ctxKeyIdemReplay, true)
			c.Header(HeaderIdempotencyReplayed, "true")
			c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
			c.Abort()
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()

		status := cw.Status()
		if status < 200 || status >= 300 || cw.buf.Len() == 0 {
			return
		}
		resp := StoredResponse{Status: status, Body: cw.buf.Bytes()}
		if err := store.Save(context.WithoutCancel(ctx), scope, key, resp, ttl); err != nil {
			lg.Warn().Err(err).Str("scope", scope).Msg("idempotency save failed")
		}
	}
}
