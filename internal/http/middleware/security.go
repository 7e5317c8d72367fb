// Package middleware contains shared Gin middleware used by the HTTP layer.
// This file sets conservative security headers on every response.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS adds Strict-Transport-Security on HTTPS responses.
	EnableHSTS bool
	// HSTSMaxAge is the max-age advertised when HSTS is enabled.
	HSTSMaxAge time.Duration
	// NoStore adds Cache-Control: no-store to every response.
	NoStore bool
	// EnablePolicy adds a restrictive Referrer-Policy and Permissions-Policy.
	EnablePolicy bool
}

// SecurityHeaders returns middleware applying standard hardening headers.
// HSTS is only emitted when the request actually arrived over TLS.
func SecurityHeaders(opts SecurityOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")

		if opts.EnablePolicy {
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		}
		if opts.NoStore {
			h.Set("Cache-Control", "no-store")
		}
		if opts.EnableHSTS && c.Request.TLS != nil {
			h.Set("Strict-Transport-Security",
				fmt.Sprintf("max-age=%d; includeSubDomains", int(opts.HSTSMaxAge.Seconds())))
		}
		c.Next()
	}
}
