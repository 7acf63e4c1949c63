// Package movies serves catalog reads and local movie edits. Movie details
// lazily pull trailers from TMDB the first time a mirrored movie is viewed.
package movies

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/tmdb"
)

// CachePrefix namespaces every key this package writes.
const CachePrefix = "catalog:movies:"

type Store interface {
	GetMovie(ctx context.Context, movieID string) (store.Movie, error)
	ListMovies(ctx context.Context, f store.ListFilter) ([]store.Movie, int, error)
	ListGenres(ctx context.Context) ([]store.Genre, error)
	MovieVideos(ctx context.Context, movieID string) ([]store.Video, error)
	AttachVideos(ctx context.Context, movieID string, videos []store.Video) error

	CreateLocalMovie(ctx context.Context, m store.LocalMovie) (store.Movie, error)
	UpdateLocalMovie(ctx context.Context, movieID string, p store.MoviePatch) (store.Movie, error)
	SoftDeleteMovie(ctx context.Context, movieID string) error
}

type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Detail is a movie with its videos.
type Detail struct {
	store.Movie
	Videos []store.Video `json:"videos"`
}

// Page is one page of a movie listing.
type Page struct {
	Movies  []store.Movie `json:"movies"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

type Service struct {
	store  Store
	videos tmdb.VideoSource
	cache  Cache
	log    *zap.Logger

	lookups singleflight.Group
}

type Option func(*Service)

// WithCache caches popular listings. Without it every call hits the store.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func New(st Store, videos tmdb.VideoSource, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{store: st, videos: videos, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Detail returns the movie with genres, images and videos. Soft-deleted
// movies are store.ErrNotFound.
func (s *Service) Detail(ctx context.Context, movieID string) (Detail, error) {
	m, err := s.store.GetMovie(ctx, movieID)
	if err != nil {
		return Detail{}, err
	}
	if m.Source == store.SourceTMDB && m.ExternalID != nil && m.VideosFetchedAt == nil && s.videos != nil {
		s.fetchVideos(ctx, m.ID, *m.ExternalID)
	}
	videos, err := s.store.MovieVideos(ctx, m.ID)
	if err != nil {
		return Detail{}, fmt.Errorf("movie videos: %w", err)
	}
	return Detail{Movie: m, Videos: videos}, nil
}

// fetchVideos looks videos up once per movie, however many viewers ask at the
// same time. Failures leave videos_fetched_at unset so a later view retries.
func (s *Service) fetchVideos(ctx context.Context, movieID string, externalID int64) {
	_, err, _ := s.lookups.Do(movieID, func() (any, error) {
		// A lookup that finished just before this one joined has already stamped the movie.
		if cur, err := s.store.GetMovie(ctx, movieID); err == nil && cur.VideosFetchedAt != nil {
			return nil, nil
		}
		found, err := s.videos.Videos(ctx, externalID)
		if err != nil {
			return nil, err
		}
		rows := make([]store.Video, 0, len(found))
		for _, v := range found {
			rows = append(rows, store.Video{Name: v.Name, Type: v.Type, Site: v.Site, Key: v.Key, Official: v.Official})
		}
		return nil, s.store.AttachVideos(ctx, movieID, rows)
	})
	if err != nil {
		s.log.Warn("video lookup failed", zap.String("movie_id", movieID), zap.Int64("external_id", externalID), zap.Error(err))
	}
}

// List pages through visible movies.
func (s *Service) List(ctx context.Context, f store.ListFilter) (Page, error) {
	f = f.Normalize()
	items, total, err := s.store.ListMovies(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Movies: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// Popular lists active movies by popularity, highest first.
func (s *Service) Popular(ctx context.Context, page, perPage int) (Page, error) {
	f := store.ListFilter{Status: store.StatusActive, Sort: store.SortPopularity, Desc: true, Page: page, PerPage: perPage}.Normalize()
	key := fmt.Sprintf("%spopular:%d:%d", CachePrefix, f.Page, f.PerPage)

	if s.cache != nil {
		var cached Page
		ok, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return cached, nil
		}
	}

	out, err := s.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out); err != nil {
			s.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

func (s *Service) Genres(ctx context.Context) ([]store.Genre, error) {
	return s.store.ListGenres(ctx)
}
