package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/api"
	"github.com/example/movie-catalog/internal/platform/httpserver"
	"github.com/example/movie-catalog/services/catalog/internal/movies"
	"github.com/example/movie-catalog/services/catalog/internal/store"
)

// MovieReader is implemented by *movies.Service.
type MovieReader interface {
	Detail(ctx context.Context, movieID string) (movies.Detail, error)
	List(ctx context.Context, f store.ListFilter) (movies.Page, error)
	Popular(ctx context.Context, page, perPage int) (movies.Page, error)
	Genres(ctx context.Context) ([]store.Genre, error)
}

// ListMovies handles GET /v1/movies
func ListMovies(svc MovieReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		q := r.URL.Query()

		page, perPage, ok := parsePaging(w, r, rid)
		if !ok {
			return
		}
		f := store.ListFilter{
			Search:  strings.TrimSpace(q.Get("q")),
			GenreID: strings.TrimSpace(q.Get("genre_id")),
			Source:  strings.TrimSpace(q.Get("source")),
			Status:  strings.TrimSpace(q.Get("status")),
			Sort:    strings.TrimSpace(q.Get("sort")),
			Desc:    strings.EqualFold(q.Get("order"), "desc"),
			Page:    page,
			PerPage: perPage,
		}
		res, err := svc.List(r.Context(), f)
		if err != nil {
			log.Error("list movies", zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		writePage(w, res)
	}
}

// PopularMovies handles GET /v1/movies/popular
func PopularMovies(svc MovieReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		page, perPage, ok := parsePaging(w, r, rid)
		if !ok {
			return
		}
		res, err := svc.Popular(r.Context(), page, perPage)
		if err != nil {
			log.Error("popular movies", zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		writePage(w, res)
	}
}

// GetMovie handles GET /v1/movies/{movie_id}
func GetMovie(svc MovieReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		movieID := strings.TrimSpace(chi.URLParam(r, "movie_id"))
		if movieID == "" {
			api.BadRequest(w, "MISSING_ID", "movie_id is required", rid, nil)
			return
		}
		d, err := svc.Detail(r.Context(), movieID)
		if errors.Is(err, store.ErrNotFound) {
			api.NotFound(w, "NOT_FOUND", "movie not found", rid)
			return
		}
		if err != nil {
			log.Error("get movie", zap.String("request_id", rid), zap.String("movie_id", movieID), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, d)
	}
}

// ListGenres handles GET /v1/genres
func ListGenres(svc MovieReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		genres, err := svc.Genres(r.Context())
		if err != nil {
			log.Error("list genres", zap.String("request_id", rid), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"genres": genres})
	}
}

// parsePaging reads page and per_page. Missing values are zero and get
// defaulted downstream. Non-numeric values are a 400.
func parsePaging(w http.ResponseWriter, r *http.Request, rid string) (int, int, bool) {
	page, err := queryInt(r, "page")
	if err != nil {
		api.BadRequest(w, "INVALID_PAGE", "page must be a positive integer", rid, nil)
		return 0, 0, false
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		api.BadRequest(w, "INVALID_PER_PAGE", "per_page must be between 1 and 100", rid, nil)
		return 0, 0, false
	}
	return page, perPage, true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writePage(w http.ResponseWriter, p movies.Page) {
	items := p.Movies
	if items == nil {
		items = []store.Movie{}
	}
	api.WriteJSON(w, http.StatusOK, api.ListResponse[store.Movie]{
		Data: items,
		Meta: api.NewPageMeta(p.Page, p.PerPage, p.Total),
	})
}
