package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pastor-macsagun/drouple-sync/api/middleware"
	"github.com/pastor-macsagun/drouple-sync/api/responses"
	"github.com/pastor-macsagun/drouple-sync/internal/coordinator"
	"github.com/pastor-macsagun/drouple-sync/internal/outbox"
	"github.com/pastor-macsagun/drouple-sync/pkg/enums"
	pkgerrors "github.com/pastor-macsagun/drouple-sync/pkg/errors"
	"github.com/pastor-macsagun/drouple-sync/pkg/logger"
)

// Pinger reports local store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncController is the coordinator surface the listener exposes.
type SyncController interface {
	Status(ctx context.Context) (coordinator.SyncStatus, error)
	ForceSync()
	Pause()
	Resume()
}

// OutboxController is the outbox surface the listener exposes.
type OutboxController interface {
	ResetFailed(ctx context.Context) (int64, error)
	EntitySyncStatus(ctx context.Context, entityType enums.EntityType, entityID string) (outbox.EntityStatus, error)
}

// NewRouter builds the local inspection listener: health probes, sync
// status and controls, and Prometheus metrics.
func NewRouter(
	logg *logger.Logger,
	store Pinger,
	sync SyncController,
	box OutboxController,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := store.Ping(req.Context()); err != nil {
			responses.WriteError(req.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeStorage, err, "store unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	})

	r.Route("/syncz", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			status, err := sync.Status(req.Context())
			if err != nil {
				responses.WriteError(req.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, status)
		})

		r.Post("/force", func(w http.ResponseWriter, _ *http.Request) {
			sync.ForceSync()
			responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
		})

		r.Post("/pause", func(w http.ResponseWriter, _ *http.Request) {
			sync.Pause()
			responses.WriteSuccess(w, map[string]string{"status": "paused"})
		})

		r.Post("/resume", func(w http.ResponseWriter, _ *http.Request) {
			sync.Resume()
			responses.WriteSuccess(w, map[string]string{"status": "resumed"})
		})

		r.Post("/reset-failed", func(w http.ResponseWriter, req *http.Request) {
			reset, err := box.ResetFailed(req.Context())
			if err != nil {
				responses.WriteError(req.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]int64{"reset": reset})
		})

		r.Get("/entity/{entityType}/{id}", func(w http.ResponseWriter, req *http.Request) {
			entityType, err := enums.ParseEntityType(chi.URLParam(req, "entityType"))
			if err != nil {
				responses.WriteError(req.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown entity type"))
				return
			}
			status, err := box.EntitySyncStatus(req.Context(), entityType, chi.URLParam(req, "id"))
			if err != nil {
				responses.WriteError(req.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, status)
		})
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}
