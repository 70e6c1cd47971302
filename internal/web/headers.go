// Package web holds the rendering layer: embedded templates and the
// hardening middleware applied in front of every route.
package web

import "github.com/gin-gonic/gin"

// SecureHeaders sets the hardening headers on every response. Applied
// before any other middleware so error responses carry them too.
func SecureHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'self'; form-action 'self'")
		c.Next()
	}
}
