package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/grandlivre/grandlivre/internal/balances"
	"github.com/grandlivre/grandlivre/internal/closing"
	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/journal"
	"github.com/grandlivre/grandlivre/internal/observability"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	AccountsHandler *coa.Handler
	PeriodsHandler  *periods.Handler
	JournalHandler  *journal.Handler
	BalancesHandler *balances.Handler
	ClosingHandler  *closing.Handler
	JobHandler      *jobs.Handler
	Pool            *pgxpool.Pool
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router for the ledger API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.AccountsHandler != nil {
			api.Route("/accounts", params.AccountsHandler.MountRoutes)
		}
		if params.PeriodsHandler != nil {
			api.Group(params.PeriodsHandler.MountRoutes)
		}
		if params.JournalHandler != nil {
			api.Route("/journal-entries", params.JournalHandler.MountRoutes)
		}
		if params.BalancesHandler != nil {
			api.Route("/balances", params.BalancesHandler.MountRoutes)
		}
		if params.ClosingHandler != nil {
			api.Group(params.ClosingHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
