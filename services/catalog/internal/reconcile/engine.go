// Package reconcile decides, per external record, whether the local catalog
// needs an insert, an update or nothing, and applies that decision.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/tmdb"
)

// ErrMalformed marks a record without an external id or a title.
var ErrMalformed = errors.New("reconcile: malformed record")

type Outcome int

const (
	Inserted Outcome = iota + 1
	Updated
	Unchanged
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Store is the part of store.CatalogStore the engine writes through.
type Store interface {
	FindByExternalID(ctx context.Context, externalID int64) (store.Movie, error)
	InsertExternalMovie(ctx context.Context, w store.MovieWrite) (store.Movie, error)
	UpdateExternalMovie(ctx context.Context, movieID string, w store.MovieWrite) error
	EnsureGenres(ctx context.Context, names []string) ([]store.Genre, error)
}

type Options struct {
	ImageBaseURL string
	// UpdateOnly skips records that have no local movie yet.
	UpdateOnly bool
}

// Engine reconciles records for one run. It is not safe for concurrent
// PrepareGenres calls; Reconcile may run concurrently once genres are prepared.
type Engine struct {
	store  Store
	log    *zap.Logger
	opts   Options
	genres map[int]string // tmdb genre id -> local genre id
}

func New(st Store, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, log: log, opts: opts, genres: map[int]string{}}
}

// PrepareGenres makes sure every upstream genre exists locally and remembers
// the mapping for the rest of the run.
func (e *Engine) PrepareGenres(ctx context.Context, upstream map[int]string) error {
	ids := make([]int, 0, len(upstream))
	for id := range upstream {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, upstream[id])
	}

	local, err := e.store.EnsureGenres(ctx, names)
	if err != nil {
		return fmt.Errorf("ensure genres: %w", err)
	}
	byName := make(map[string]string, len(local))
	for _, g := range local {
		byName[strings.ToLower(strings.TrimSpace(g.Name))] = g.ID
	}
	genres := make(map[int]string, len(upstream))
	for id, name := range upstream {
		if gid, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
			genres[id] = gid
		}
	}
	e.genres = genres
	return nil
}

// Validate reports ErrMalformed for records that cannot be stored.
func Validate(rec tmdb.Record) error {
	if rec.ExternalID <= 0 {
		return fmt.Errorf("%w: missing external id", ErrMalformed)
	}
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("%w: missing title (external id %d)", ErrMalformed, rec.ExternalID)
	}
	return nil
}

// Reconcile applies one record. Record-level problems come back as Skipped
// with a nil error; a non-nil error means storage failed and the run should stop.
func (e *Engine) Reconcile(ctx context.Context, rec tmdb.Record) (Outcome, error) {
	if err := Validate(rec); err != nil {
		e.log.Warn("skipping record", zap.Error(err))
		return Skipped, nil
	}
	w := e.toWrite(rec)

	existing, err := e.store.FindByExternalID(ctx, rec.ExternalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if e.opts.UpdateOnly {
			return Skipped, nil
		}
		_, err := e.store.InsertExternalMovie(ctx, w)
		if err == nil {
			return Inserted, nil
		}
		if !errors.Is(err, store.ErrDuplicateExternalID) {
			return 0, fmt.Errorf("insert external id %d: %w", rec.ExternalID, err)
		}
		// Lost an insert race; continue as an update of the winner.
		existing, err = e.store.FindByExternalID(ctx, rec.ExternalID)
		if err != nil {
			return 0, fmt.Errorf("reload external id %d: %w", rec.ExternalID, err)
		}
	case err != nil:
		return 0, fmt.Errorf("find external id %d: %w", rec.ExternalID, err)
	}

	if existing.Source != store.SourceTMDB {
		e.log.Info("skipping record owned locally",
			zap.Int64("external_id", rec.ExternalID), zap.String("movie_id", existing.ID), zap.String("source", existing.Source))
		return Skipped, nil
	}
	if existing.Fingerprint == w.Fingerprint {
		return Unchanged, nil
	}
	if err := e.store.UpdateExternalMovie(ctx, existing.ID, w); err != nil {
		if errors.Is(err, store.ErrForeignMovie) {
			return Skipped, nil
		}
		return 0, fmt.Errorf("update external id %d: %w", rec.ExternalID, err)
	}
	return Updated, nil
}

func (e *Engine) toWrite(rec tmdb.Record) store.MovieWrite {
	w := store.MovieWrite{
		ExternalID:  rec.ExternalID,
		Title:       strings.TrimSpace(rec.Title),
		Overview:    strings.TrimSpace(rec.Overview),
		ReleaseDate: rec.ReleaseDate,
		Popularity:  rec.Popularity,
		Rating:      rec.Rating,
		Fingerprint: Fingerprint(rec),
	}
	seen := make(map[string]bool, len(rec.GenreIDs))
	for _, id := range rec.GenreIDs {
		if gid, ok := e.genres[id]; ok && !seen[gid] {
			seen[gid] = true
			w.GenreIDs = append(w.GenreIDs, gid)
		}
	}
	if u := tmdb.ImageURL(e.opts.ImageBaseURL, tmdb.PosterSize, rec.PosterPath); u != "" {
		w.Images = append(w.Images, store.Image{Type: store.ImagePoster, URL: u})
	}
	if u := tmdb.ImageURL(e.opts.ImageBaseURL, tmdb.BackdropSize, rec.BackdropPath); u != "" {
		w.Images = append(w.Images, store.Image{Type: store.ImageBackdrop, URL: u})
	}
	return w
}

// Fingerprint hashes the mirrored fields of rec. Genre order does not matter.
func Fingerprint(rec tmdb.Record) string {
	genres := append([]int(nil), rec.GenreIDs...)
	sort.Ints(genres)
	gs := make([]string, len(genres))
	for i, g := range genres {
		gs[i] = strconv.Itoa(g)
	}
	release := ""
	if rec.ReleaseDate != nil {
		release = rec.ReleaseDate.Format("2006-01-02")
	}

	fields := []string{
		strings.TrimSpace(rec.Title),
		strings.TrimSpace(rec.Overview),
		release,
		strconv.FormatFloat(rec.Popularity, 'f', -1, 64),
		strconv.FormatFloat(rec.Rating, 'f', -1, 64),
		strings.TrimSpace(rec.PosterPath),
		strings.TrimSpace(rec.BackdropPath),
		strings.Join(gs, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}
