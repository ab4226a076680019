// Package app wires repositories, domain services and the HTTP layer.
package app

import (
	"time"

	appointmenthandler "github.com/jwalitptl/kine-api/internal/handler/appointment"
	healthhandler "github.com/jwalitptl/kine-api/internal/handler/health"
	maintenancehandler "github.com/jwalitptl/kine-api/internal/handler/maintenance"
	planhandler "github.com/jwalitptl/kine-api/internal/handler/plan"
	schedulehandler "github.com/jwalitptl/kine-api/internal/handler/schedule"
	"github.com/jwalitptl/kine-api/internal/middleware"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/router"
	"github.com/jwalitptl/kine-api/internal/service/appointment"
	"github.com/jwalitptl/kine-api/internal/service/care"
	"github.com/jwalitptl/kine-api/internal/service/catalog"
	"github.com/jwalitptl/kine-api/internal/service/event"
	"github.com/jwalitptl/kine-api/internal/service/maintenance"
	"github.com/jwalitptl/kine-api/internal/service/plan"
	"github.com/jwalitptl/kine-api/internal/service/schedule"
	"github.com/jwalitptl/kine-api/internal/service/slot"
	"github.com/jwalitptl/kine-api/pkg/auth"
	"github.com/jwalitptl/kine-api/pkg/clock"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
	"github.com/jwalitptl/kine-api/pkg/validator"
)

type Options struct {
	Location               *time.Location
	DefaultDurationMinutes int
	DefaultVisibilityDays  int
	CatalogTTL             time.Duration
	CatalogCleanup         time.Duration
}

type App struct {
	Repos        *repository.Repositories
	Events       *event.Service
	Policy       *schedule.Policy
	Care         *care.Manager
	Catalog      *catalog.Catalog
	Appointments *appointment.Service
	Plans        *plan.Service
	Maintenance  *maintenance.Service

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// New builds every domain service over repos and subscribes the plan
// completion cascade on the event bus.
func New(repos *repository.Repositories, opts Options, clk clock.Clock, m *metrics.Metrics, log *logger.Logger) *App {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = 10 * time.Minute
	}
	if opts.CatalogCleanup <= 0 {
		opts.CatalogCleanup = 2 * opts.CatalogTTL
	}

	bus := event.NewService(repos.Outbox, clk, log)
	policy := schedule.NewPolicy(opts.Location)
	careMgr := care.NewManager(repos, bus, clk, log)
	exercises := catalog.New(repos.Exercises, opts.CatalogTTL, opts.CatalogCleanup, m)

	appointments := appointment.NewService(repos, policy, slot.NewChecker(repos.Appointments),
		careMgr, bus, clk, m, log, opts.DefaultDurationMinutes)
	plans := plan.NewService(repos, exercises, careMgr, bus, clk, opts.Location, m, log, opts.DefaultVisibilityDays)

	careMgr.Register(bus)
	appointments.Register(bus)

	return &App{
		Repos:        repos,
		Events:       bus,
		Policy:       policy,
		Care:         careMgr,
		Catalog:      exercises,
		Appointments: appointments,
		Plans:        plans,
		Maintenance:  maintenance.NewService(repos.Appointments, clk, m, log),
		Clock:        clk,
		Metrics:      m,
		Log:          log,
	}
}

// Router assembles the HTTP surface. checks feed the readiness probe.
func (a *App) Router(tokens auth.JWTService, cfg router.RouterConfig, checks map[string]healthhandler.Checker) *router.Router {
	v := validator.New()
	handlers := router.Handlers{
		Appointment: appointmenthandler.NewHandler(a.Appointments, v, a.Policy.Location()),
		Plan:        planhandler.NewHandler(a.Plans, v),
		Maintenance: maintenancehandler.NewHandler(a.Maintenance),
		Schedule:    schedulehandler.NewHandler(a.Policy),
		Health:      healthhandler.NewHandler(a.Metrics.Registry, checks),
	}

	r := router.NewRouter(middleware.NewAuthMiddleware(tokens), handlers, a.Metrics, cfg)
	r.Setup()
	return r
}
