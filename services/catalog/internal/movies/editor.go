package movies

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/example/movie-catalog/services/catalog/internal/store"
)

var (
	// ErrForbidden is returned when a user edits a movie they did not create.
	ErrForbidden = errors.New("movie belongs to another user")
	// ErrUnknownGenre is returned to admins when none of the given genre ids exist.
	ErrUnknownGenre = errors.New("genre not found")
)

const maxTitleLen = 255

// ValidationError rejects a MovieInput. Fields maps each offending field to a
// short description.
type ValidationError struct {
	Code    string
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code, msg, field, desc string) error {
	return &ValidationError{Code: code, Message: msg, Fields: map[string]string{field: desc}}
}

// MovieInput is the body of a create or update. Absent fields are nil. The
// admin-only fields are ignored on user writes.
type MovieInput struct {
	Title       *string  `json:"title"`
	Overview    *string  `json:"overview"`
	ReleaseDate *string  `json:"release_date"`
	GenreIDs    []string `json:"genre_ids"`

	ExternalID *int64   `json:"external_id"`
	Popularity *float64 `json:"popularity"`
	Rating     *float64 `json:"rating"`
	IsFeatured *bool    `json:"is_featured"`
	Status     *string  `json:"status"`
}

func (in MovieInput) patch(admin bool) (store.MoviePatch, error) {
	var p store.MoviePatch
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return p, invalid("VALIDATION_TITLE", "title must not be empty", "title", "required")
		}
		if utf8.RuneCountInString(title) > maxTitleLen {
			return p, invalid("VALIDATION_TITLE", "title is too long", "title", "max length 255")
		}
		p.Title = &title
	}
	p.Overview = in.Overview
	if in.ReleaseDate != nil {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(*in.ReleaseDate))
		if err != nil {
			return p, invalid("VALIDATION_RELEASE_DATE", "release_date must be YYYY-MM-DD", "release_date", "invalid")
		}
		p.ReleaseDate = &d
	}
	if !admin {
		return p, nil
	}
	if in.Popularity != nil && *in.Popularity < 0 {
		return p, invalid("VALIDATION_POPULARITY", "popularity must not be negative", "popularity", "min 0")
	}
	if in.Rating != nil && (*in.Rating < 0 || *in.Rating > 10) {
		return p, invalid("VALIDATION_RATING", "rating must be between 0 and 10", "rating", "range 0..10")
	}
	if in.Status != nil && *in.Status != store.StatusActive && *in.Status != store.StatusArchived {
		return p, invalid("VALIDATION_STATUS", "status must be active or archived", "status", "invalid")
	}
	if in.ExternalID != nil && *in.ExternalID <= 0 {
		return p, invalid("VALIDATION_EXTERNAL_ID", "external_id must be positive", "external_id", "min 1")
	}
	p.Popularity = in.Popularity
	p.Rating = in.Rating
	p.IsFeatured = in.IsFeatured
	p.Status = in.Status
	return p, nil
}

// knownGenres keeps the ids that name an existing genre. A nil input stays nil
// so updates leave genres alone.
func (s *Service) knownGenres(ctx context.Context, ids []string, strict bool) ([]string, error) {
	if ids == nil {
		return nil, nil
	}
	all, err := s.store.ListGenres(ctx)
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	exists := make(map[string]bool, len(all))
	for _, g := range all {
		exists[g.ID] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if exists[strings.TrimSpace(id)] {
			out = append(out, strings.TrimSpace(id))
		}
	}
	if strict && len(ids) > 0 && len(out) == 0 {
		return nil, ErrUnknownGenre
	}
	return out, nil
}

func (s *Service) create(ctx context.Context, source, createdBy string, in MovieInput) (store.Movie, error) {
	if in.Title == nil {
		return store.Movie{}, invalid("VALIDATION_TITLE", "title is required", "title", "required")
	}
	admin := source == store.SourceAdmin
	p, err := in.patch(admin)
	if err != nil {
		return store.Movie{}, err
	}
	genres, err := s.knownGenres(ctx, in.GenreIDs, admin)
	if err != nil {
		return store.Movie{}, err
	}
	lm := store.LocalMovie{
		Source:      source,
		CreatedBy:   createdBy,
		Title:       *p.Title,
		ReleaseDate: p.ReleaseDate,
		GenreIDs:    genres,
	}
	if p.Overview != nil {
		lm.Overview = *p.Overview
	}
	if admin {
		lm.ExternalID = in.ExternalID
		if p.Popularity != nil {
			lm.Popularity = *p.Popularity
		}
		if p.Rating != nil {
			lm.Rating = *p.Rating
		}
		if p.IsFeatured != nil {
			lm.IsFeatured = *p.IsFeatured
		}
		if p.Status != nil {
			lm.Status = *p.Status
		}
	}
	m, err := s.store.CreateLocalMovie(ctx, lm)
	if err != nil {
		return store.Movie{}, err
	}
	s.log.Info("movie created", zap.String("movie_id", m.ID), zap.String("source", source), zap.String("created_by", createdBy))
	return m, nil
}

func (s *Service) update(ctx context.Context, movieID string, in MovieInput, admin bool) (store.Movie, error) {
	p, err := in.patch(admin)
	if err != nil {
		return store.Movie{}, err
	}
	if p.GenreIDs, err = s.knownGenres(ctx, in.GenreIDs, admin); err != nil {
		return store.Movie{}, err
	}
	return s.store.UpdateLocalMovie(ctx, movieID, p)
}

// owned loads a movie the user created. Mirrored and admin movies are never
// owned by a user.
func (s *Service) owned(ctx context.Context, userID, movieID string) error {
	m, err := s.store.GetMovie(ctx, movieID)
	if err != nil {
		return err
	}
	if m.Source != store.SourceUser || m.CreatedBy == nil || *m.CreatedBy != userID {
		return ErrForbidden
	}
	return nil
}

// CreateUserMovie adds a movie owned by userID. Unknown genre ids are dropped.
func (s *Service) CreateUserMovie(ctx context.Context, userID string, in MovieInput) (store.Movie, error) {
	return s.create(ctx, store.SourceUser, userID, in)
}

func (s *Service) UpdateUserMovie(ctx context.Context, userID, movieID string, in MovieInput) (store.Movie, error) {
	if err := s.owned(ctx, userID, movieID); err != nil {
		return store.Movie{}, err
	}
	return s.update(ctx, movieID, in, false)
}

func (s *Service) DeleteUserMovie(ctx context.Context, userID, movieID string) error {
	if err := s.owned(ctx, userID, movieID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteMovie(ctx, movieID); err != nil {
		return err
	}
	s.log.Info("movie deleted", zap.String("movie_id", movieID), zap.String("user_id", userID))
	return nil
}

// ListUserMovies pages through the movies userID created under role, newest
// first.
func (s *Service) ListUserMovies(ctx context.Context, userID, role string, page, perPage int) (Page, error) {
	source := store.SourceUser
	if strings.EqualFold(strings.TrimSpace(role), store.SourceAdmin) {
		source = store.SourceAdmin
	}
	return s.List(ctx, store.ListFilter{
		CreatedBy: userID,
		Source:    source,
		Sort:      store.SortCreatedAt,
		Desc:      true,
		Page:      page,
		PerPage:   perPage,
	})
}

// CreateAdminMovie adds a curated movie. A set ExternalID claims that TMDB id,
// so sync skips it from then on.
func (s *Service) CreateAdminMovie(ctx context.Context, adminID string, in MovieInput) (store.Movie, error) {
	return s.create(ctx, store.SourceAdmin, adminID, in)
}

// UpdateAdminMovie edits any visible movie. Edits to a mirrored movie's TMDB
// fields last until the next sync rewrites them.
func (s *Service) UpdateAdminMovie(ctx context.Context, movieID string, in MovieInput) (store.Movie, error) {
	m, err := s.update(ctx, movieID, in, true)
	if err != nil {
		return store.Movie{}, err
	}
	s.log.Info("movie updated by admin", zap.String("movie_id", movieID))
	return m, nil
}

func (s *Service) DeleteAdminMovie(ctx context.Context, movieID string) error {
	if err := s.store.SoftDeleteMovie(ctx, movieID); err != nil {
		return err
	}
	s.log.Info("movie deleted by admin", zap.String("movie_id", movieID))
	return nil
}
