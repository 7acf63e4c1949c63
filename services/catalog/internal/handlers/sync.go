package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/api"
	"github.com/example/movie-catalog/internal/platform/httpserver"
	"github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/syncrun"
)

// SyncCoordinator is implemented by *syncrun.Coordinator.
type SyncCoordinator interface {
	Start(ctx context.Context, mode store.SyncMode, resume bool) (store.SyncRun, error)
	Status(ctx context.Context) (syncrun.Status, error)
	LastSync(ctx context.Context) (store.SyncRun, error)
}

// StartSync handles POST /v1/admin/sync/movies?mode=full|changes&resume=true|false
func StartSync(sync SyncCoordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		rawMode := strings.TrimSpace(r.URL.Query().Get("mode"))
		if rawMode == "" {
			rawMode = string(store.ModeFull)
		}
		mode, ok := store.ParseMode(rawMode)
		if !ok {
			api.BadRequest(w, "INVALID_MODE", "mode must be full or changes", rid, map[string]any{"mode": rawMode})
			return
		}
		resume := false
		if v := strings.TrimSpace(r.URL.Query().Get("resume")); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				api.BadRequest(w, "INVALID_RESUME", "resume must be true or false", rid, nil)
				return
			}
			resume = b
		}

		run, err := sync.Start(r.Context(), mode, resume)
		switch {
		case errors.Is(err, store.ErrRunActive):
			api.Conflict(w, "SYNC_CONFLICT", "a sync run is already in progress", rid, nil)
			return
		case errors.Is(err, syncrun.ErrInvalidMode):
			api.BadRequest(w, "INVALID_MODE", "mode must be full or changes", rid, nil)
			return
		case err != nil:
			log.Error("start sync", zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusAccepted, run)
	}
}

// SyncStatus handles GET /v1/admin/sync/status
func SyncStatus(sync SyncCoordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		st, err := sync.Status(r.Context())
		if err != nil {
			log.Error("sync status", zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, st)
	}
}

// LastSync handles GET /v1/admin/sync/last
func LastSync(sync SyncCoordinator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		run, err := sync.LastSync(r.Context())
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "NO_SYNC_RUNS", "no sync run has finished yet", rid)
			return
		}
		if err != nil {
			log.Error("last sync", zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, run)
	}
}
