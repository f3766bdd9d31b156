// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements AdminKey, a shared-secret guard for the admin
// surface. The key is accepted from the X-Admin-Key header or as a bearer
// token in Authorization.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminKeyHeader carries the admin shared secret.
const AdminKeyHeader = "X-Admin-Key"

const ctxKeyAdmin = "auth.admin"

// IsAdmin reports whether AdminKey authenticated the request.
func IsAdmin(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyAdmin)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func presentedKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(AdminKeyHeader)); k != "" {
		return k
	}
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// AdminKey rejects requests that do not present key with 401 and the
// invocation envelope. An empty key disables the check. OPTIONS requests
// always pass so CORS preflights work.
func AdminKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		if key == "" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		got := presentedKey(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		c.Set(ctxKeyAdmin, true)
		c.Next()
	}
}
