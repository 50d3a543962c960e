package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/rehab-clinic-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/rehab-clinic-platform/internal/http/middleware"
	"github.com/wolfman30/rehab-clinic-platform/internal/packages"
	"github.com/wolfman30/rehab-clinic-platform/internal/staff"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// Pinger reports backing-store health for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	PackagesHandler    *packages.Handler
	AdminDashboard     *handlers.AdminDashboardHandler
	AdminAudit         *handlers.AdminAuditHandler
	StaffJWTSecret     string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter

	// Optional dependency checks reported by /health.
	HealthChecks map[string]Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		api.Use(middleware.Timeout(30 * time.Second))
		adminOnly := httpmiddleware.RequireRole(staff.RoleAdmin)
		if cfg.PackagesHandler != nil {
			cfg.PackagesHandler.Routes(api, adminOnly)
		}
		if cfg.AdminDashboard == nil && cfg.AdminAudit == nil {
			return
		}
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(adminOnly)
			if cfg.AdminDashboard != nil {
				admin.Get("/dashboard", cfg.AdminDashboard.GetDashboardOverview)
			}
			if cfg.AdminAudit != nil {
				admin.Get("/audit", cfg.AdminAudit.ListEvents)
			}
		})
	})

	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, p := range checks {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil {
				resp[name] = "unavailable"
				resp["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
