/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. hlog:       Request-scoped zerolog logger and access log line
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/registers/*      Registers, balances, statements, openings
  /api/movements/*      Manual entries/withdrawals, deletion
  /api/transfers        Transfers between registers
  /api/postings/*       Sale and evaluation postings, retries
  /api/references/*     Reversal by business reference
  /api/closings/*       Closing workflow
  /api/diagnostics      Operator follow-ups
  /api/audit            Stored audit trail
  /api/scenarios/*      Demo scenarios (when enabled)
  /metrics, /healthz

SECURITY NOTE:
  No authentication middleware. The actor is whatever X-Actor says.
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type RouterConfig struct {
	Logger           zerolog.Logger
	CORSOrigins      []string
	Metrics          http.Handler // nil leaves /metrics unrouted
	ScenariosEnabled bool

	// Ping backs /healthz. Nil always reports ok.
	Ping func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", ActorHeader},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/registers", func(r chi.Router) {
			r.Get("/", h.ListRegisters)
			r.Post("/", h.CreateRegister)
			r.Get("/{id}", h.GetRegister)
			r.Get("/{id}/statement", h.GetStatement)
			r.Get("/{id}/opening", h.GetOpening)
		})

		r.Route("/movements", func(r chi.Router) {
			r.Get("/", h.ListMovements)
			r.Post("/", h.CreateMovement)
			r.Delete("/{id}", h.DeleteMovement)
		})

		r.Post("/transfers", h.CreateTransfer)

		r.Route("/postings", func(r chi.Router) {
			r.Get("/", h.ListPostings)
			r.Post("/sales", h.PostSale)
			r.Post("/evaluations", h.PostEvaluation)
			r.Post("/{id}/retry", h.RetryPosting)
		})

		r.Delete("/references/{type}/{id}", h.ReverseReference)

		r.Route("/closings", func(r chi.Router) {
			r.Get("/", h.ListClosings)
			r.Post("/", h.CloseRegister)
			r.Post("/manual", h.CreateManualClosing)
			r.Post("/{id}/approve", h.ApproveClosing)
			r.Post("/{id}/reject", h.RejectClosing)
			r.Delete("/{id}", h.DeleteClosing)
		})

		r.Get("/diagnostics", h.GetDiagnostics)
		r.Get("/audit", h.ListAudit)

		if cfg.ScenariosEnabled {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ping != nil {
			if err := cfg.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unreachable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// requestIDField copies chi's request id into the request logger.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			log := zerolog.Ctx(r.Context())
			log.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
