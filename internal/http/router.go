// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/config"
	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/http/handlers"
	"github.com/tbourn/go-booking-backend/internal/http/middleware"
	"github.com/tbourn/go-booking-backend/internal/repo"
	"github.com/tbourn/go-booking-backend/internal/services"
)

// bookingRepoShim adapts the repository free functions to the interfaces the
// services expect. This keeps services decoupled from the concrete repo
// package while reusing the existing functions.
type bookingRepoShim struct{}

func (bookingRepoShim) GetBusiness(ctx context.Context, db *gorm.DB, id string) (*domain.Business, error) {
	return repo.GetBusiness(ctx, db, id)
}

func (bookingRepoShim) GetService(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Service, error) {
	return repo.GetService(ctx, db, businessID, id)
}

func (bookingRepoShim) GetStaff(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.Staff, error) {
	return repo.GetStaff(ctx, db, businessID, id)
}

func (bookingRepoShim) GetBookingByIdempotencyKey(ctx context.Context, db *gorm.DB, businessID, key string) (*domain.Booking, error) {
	return repo.GetBookingByIdempotencyKey(ctx, db, businessID, key)
}

func (bookingRepoShim) ListBookedInstants(ctx context.Context, db *gorm.DB, businessID, serviceID string, staffID *string, from, to time.Time) ([]time.Time, error) {
	return repo.ListBookedInstants(ctx, db, businessID, serviceID, staffID, from, to)
}

func (bookingRepoShim) HasConflictingBooking(ctx context.Context, db *gorm.DB, businessID, serviceID string, staffID *string, at time.Time, tolerance time.Duration) (bool, error) {
	return repo.HasConflictingBooking(ctx, db, businessID, serviceID, staffID, at, tolerance)
}

func (bookingRepoShim) CountBookingsSince(ctx context.Context, db *gorm.DB, businessID string, since time.Time) (int64, error) {
	return repo.CountBookingsSince(ctx, db, businessID, since)
}

func (bookingRepoShim) CreateBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	return repo.CreateBooking(ctx, db, b)
}

func (bookingRepoShim) CancelBooking(ctx context.Context, db *gorm.DB, businessID, id string, now time.Time) error {
	return repo.CancelBooking(ctx, db, businessID, id, now)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), idempotency and rate limiting,
// CORS and security headers, health and metrics endpoints, and the versioned
// public API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter + gzip
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per IP, bypass on replay)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, scheduler services.NotificationScheduler, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, businessID, key string) (bool, error) {
			b, err := repo.GetBookingByIdempotencyKey(ctx, db, businessID, key)
			if err != nil || b == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/scheduler
	availSvc := services.NewAvailabilityService(db, bookingRepoShim{})
	bookingSvc := services.NewBookingService(db, bookingRepoShim{}, scheduler)
	h := handlers.New(availSvc, bookingSvc)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/businesses/:id/slots", h.ListSlots)
		api.POST("/businesses/:id/bookings", h.CreateBooking)
		api.DELETE("/businesses/:id/bookings/:bookingID", h.CancelBooking)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
