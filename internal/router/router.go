package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appointmenthandler "github.com/jwalitptl/kine-api/internal/handler/appointment"
	healthhandler "github.com/jwalitptl/kine-api/internal/handler/health"
	maintenancehandler "github.com/jwalitptl/kine-api/internal/handler/maintenance"
	planhandler "github.com/jwalitptl/kine-api/internal/handler/plan"
	schedulehandler "github.com/jwalitptl/kine-api/internal/handler/schedule"
	"github.com/jwalitptl/kine-api/internal/middleware"
	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

type Handlers struct {
	Appointment *appointmenthandler.Handler
	Plan        *planhandler.Handler
	Maintenance *maintenancehandler.Handler
	Schedule    *schedulehandler.Handler
	Health      *healthhandler.Handler
}

type RouterConfig struct {
	Mode             string
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	AllowedOrigins   []string
	RequestTimeout   time.Duration
	MaxBodySize      int64
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	metrics  *metrics.Metrics
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, m *metrics.Metrics, config RouterConfig) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		metrics:  m,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	engine.Use(cors.New(corsConfig(config.AllowedOrigins)))

	if config.MaxBodySize <= 0 {
		config.MaxBodySize = middleware.DefaultSizeLimitConfig().MaxBodySize
	}
	engine.Use(middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: config.MaxBodySize}))

	if config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(limiter.RateLimit())
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderXRequestID},
		ExposeHeaders: []string{"Content-Length", "Content-Type", middleware.HeaderXRequestID},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Public routes
	r.handlers.Health.RegisterRoutes(api)
	r.handlers.Schedule.RegisterRoutes(api)

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())

	staffOnly := r.auth.RequireRole(model.RolePractitioner, model.RoleAdmin)
	adminOnly := r.auth.RequireRole(model.RoleAdmin)

	r.handlers.Appointment.RegisterRoutes(protected, adminOnly)
	r.handlers.Plan.RegisterRoutes(protected, staffOnly)
	r.handlers.Maintenance.RegisterRoutes(protected, staffOnly)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.ErrorTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		}
	}
}
