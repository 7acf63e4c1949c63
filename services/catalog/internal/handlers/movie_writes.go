package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/api"
	"github.com/example/movie-catalog/internal/platform/auth"
	"github.com/example/movie-catalog/internal/platform/httpserver"
	"github.com/example/movie-catalog/services/catalog/internal/movies"
	"github.com/example/movie-catalog/services/catalog/internal/store"
)

// MovieEditor is implemented by *movies.Service.
type MovieEditor interface {
	CreateUserMovie(ctx context.Context, userID string, in movies.MovieInput) (store.Movie, error)
	UpdateUserMovie(ctx context.Context, userID, movieID string, in movies.MovieInput) (store.Movie, error)
	DeleteUserMovie(ctx context.Context, userID, movieID string) error
	ListUserMovies(ctx context.Context, userID, role string, page, perPage int) (movies.Page, error)

	CreateAdminMovie(ctx context.Context, adminID string, in movies.MovieInput) (store.Movie, error)
	UpdateAdminMovie(ctx context.Context, movieID string, in movies.MovieInput) (store.Movie, error)
	DeleteAdminMovie(ctx context.Context, movieID string) error
}

// MovieService is everything the catalog routes need from *movies.Service.
type MovieService interface {
	MovieReader
	MovieEditor
}

// MyMovies handles GET /v1/movies/me
func MyMovies(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		page, perPage, ok := parsePaging(w, r, rid)
		if !ok {
			return
		}
		role, _ := auth.RoleFromContext(r.Context())
		res, err := svc.ListUserMovies(r.Context(), userID, role, page, perPage)
		if err != nil {
			log.Error("list own movies", zap.String("request_id", rid), zap.String("user_id", userID), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		writePage(w, res)
	}
}

// CreateUserMovie handles POST /v1/movies/user
func CreateUserMovie(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		in, ok := decodeMovieInput(w, r, rid)
		if !ok {
			return
		}
		m, err := svc.CreateUserMovie(r.Context(), userID, in)
		if err != nil {
			writeEditError(w, log, rid, "create user movie", err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, m)
	}
}

// UpdateUserMovie handles PUT /v1/movies/user/{movie_id}
func UpdateUserMovie(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		movieID, ok := movieIDParam(w, r, rid)
		if !ok {
			return
		}
		in, ok := decodeMovieInput(w, r, rid)
		if !ok {
			return
		}
		m, err := svc.UpdateUserMovie(r.Context(), userID, movieID, in)
		if err != nil {
			writeEditError(w, log, rid, "update user movie", err)
			return
		}
		api.WriteJSON(w, http.StatusOK, m)
	}
}

// DeleteUserMovie handles DELETE /v1/movies/user/{movie_id}
func DeleteUserMovie(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", rid)
			return
		}
		movieID, ok := movieIDParam(w, r, rid)
		if !ok {
			return
		}
		if err := svc.DeleteUserMovie(r.Context(), userID, movieID); err != nil {
			writeEditError(w, log, rid, "delete user movie", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CreateAdminMovie handles POST /v1/admin/movies
func CreateAdminMovie(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		adminID, _ := auth.UserIDFromContext(r.Context())
		in, ok := decodeMovieInput(w, r, rid)
		if !ok {
			return
		}
		m, err := svc.CreateAdminMovie(r.Context(), adminID, in)
		if err != nil {
			writeEditError(w, log, rid, "create admin movie", err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, m)
	}
}

// UpdateAdminMovie handles PUT /v1/admin/movies/{movie_id}
func UpdateAdminMovie(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		movieID, ok := movieIDParam(w, r, rid)
		if !ok {
			return
		}
		in, ok := decodeMovieInput(w, r, rid)
		if !ok {
			return
		}
		m, err := svc.UpdateAdminMovie(r.Context(), movieID, in)
		if err != nil {
			writeEditError(w, log, rid, "update admin movie", err)
			return
		}
		api.WriteJSON(w, http.StatusOK, m)
	}
}

// DeleteAdminMovie handles DELETE /v1/admin/movies/{movie_id}
func DeleteAdminMovie(svc MovieEditor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		movieID, ok := movieIDParam(w, r, rid)
		if !ok {
			return
		}
		if err := svc.DeleteAdminMovie(r.Context(), movieID); err != nil {
			writeEditError(w, log, rid, "delete admin movie", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func movieIDParam(w http.ResponseWriter, r *http.Request, rid string) (string, bool) {
	movieID := strings.TrimSpace(chi.URLParam(r, "movie_id"))
	if movieID == "" {
		api.BadRequest(w, "MISSING_ID", "movie_id is required", rid, nil)
		return "", false
	}
	return movieID, true
}

func decodeMovieInput(w http.ResponseWriter, r *http.Request, rid string) (movies.MovieInput, bool) {
	var in movies.MovieInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
		return in, false
	}
	return in, true
}

func writeEditError(w http.ResponseWriter, log *zap.Logger, rid, op string, err error) {
	var ve *movies.ValidationError
	switch {
	case errors.As(err, &ve):
		details := make(map[string]any, len(ve.Fields))
		for k, v := range ve.Fields {
			details[k] = v
		}
		api.BadRequest(w, ve.Code, ve.Message, rid, details)
	case errors.Is(err, movies.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", "not the owner of this movie", rid)
	case errors.Is(err, movies.ErrUnknownGenre):
		api.NotFound(w, "GENRE_NOT_FOUND", "genre not found", rid)
	case errors.Is(err, store.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "movie not found", rid)
	case errors.Is(err, store.ErrDuplicateExternalID):
		api.Conflict(w, "DUPLICATE_EXTERNAL_ID", "a movie with this external_id already exists", rid, nil)
	default:
		log.Error(op, zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
	}
}
