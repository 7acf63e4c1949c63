package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process implementation of CatalogStore and SyncRunStore
// for development and tests. It follows the Postgres store's semantics.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	movies      map[string]Movie
	byExternal  map[int64]string
	genres      map[string]Genre
	genreByName map[string]string // lower(name) -> id
	movieGenres map[string][]string
	images      map[string][]Image
	videos      map[string][]Video
	runs        []SyncRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		movies:      make(map[string]Movie),
		byExternal:  make(map[int64]string),
		genres:      make(map[string]Genre),
		genreByName: make(map[string]string),
		movieGenres: make(map[string][]string),
		images:      make(map[string][]Image),
		videos:      make(map[string][]Video),
	}
}

// SetClock replaces the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SeedMovie stores m as-is, assigning an id when empty. Tests use it to set
// up rows no write path produces, such as soft-deleted ones.
func (s *MemoryStore) SeedMovie(m Movie) Movie {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
		m.UpdatedAt = m.CreatedAt
	}
	ids := make([]string, 0, len(m.Genres))
	for _, g := range m.Genres {
		ids = append(ids, g.ID)
	}
	s.movieGenres[m.ID] = ids
	s.images[m.ID] = append([]Image(nil), m.Images...)
	m.Genres, m.Images = nil, nil
	s.movies[m.ID] = m
	if m.ExternalID != nil {
		s.byExternal[*m.ExternalID] = m.ID
	}
	return s.hydrate(m)
}

func (s *MemoryStore) FindByExternalID(_ context.Context, externalID int64) (Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return Movie{}, ErrNotFound
	}
	return s.hydrate(s.movies[id]), nil
}

func (s *MemoryStore) InsertExternalMovie(_ context.Context, w MovieWrite) (Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExternal[w.ExternalID]; ok {
		return Movie{}, ErrDuplicateExternalID
	}
	now := s.now()
	ext := w.ExternalID
	m := Movie{
		ID:         uuid.NewString(),
		Source:     SourceTMDB,
		ExternalID: &ext,
		Status:     StatusActive,
		CreatedAt:  now,
	}
	m = applyWrite(m, w, now)
	s.movies[m.ID] = m
	s.byExternal[ext] = m.ID
	s.movieGenres[m.ID] = s.knownGenreIDs(w.GenreIDs)
	s.images[m.ID] = append([]Image(nil), w.Images...)
	return s.hydrate(m), nil
}

func (s *MemoryStore) UpdateExternalMovie(_ context.Context, movieID string, w MovieWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[movieID]
	if !ok {
		return ErrNotFound
	}
	if m.Source != SourceTMDB {
		return ErrForeignMovie
	}
	s.movies[movieID] = applyWrite(m, w, s.now())
	s.movieGenres[movieID] = s.knownGenreIDs(w.GenreIDs)
	s.images[movieID] = append([]Image(nil), w.Images...)
	return nil
}

func applyWrite(m Movie, w MovieWrite, now time.Time) Movie {
	m.Title = w.Title
	m.Overview = w.Overview
	m.ReleaseDate = w.ReleaseDate
	m.Popularity = w.Popularity
	m.Rating = w.Rating
	m.Fingerprint = w.Fingerprint
	m.UpdatedAt = now
	return m
}

func (s *MemoryStore) knownGenreIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.genres[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *MemoryStore) EnsureGenres(_ context.Context, names []string) ([]Genre, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Genre, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		if id, ok := s.genreByName[key]; ok {
			out = append(out, s.genres[id])
			continue
		}
		g := Genre{ID: uuid.NewString(), Name: name}
		s.genres[g.ID] = g
		s.genreByName[key] = g.ID
		out = append(out, g)
	}
	return out, nil
}

func (s *MemoryStore) KnownExternalIDs(_ context.Context, ids []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for _, id := range ids {
		if mid, ok := s.byExternal[id]; ok && s.movies[mid].Source == SourceTMDB {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateLocalMovie(_ context.Context, lm LocalMovie) (Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lm.ExternalID != nil {
		if _, ok := s.byExternal[*lm.ExternalID]; ok {
			return Movie{}, ErrDuplicateExternalID
		}
	}
	if lm.Status == "" {
		lm.Status = StatusActive
	}
	now := s.now()
	var creator *string
	if lm.CreatedBy != "" {
		c := lm.CreatedBy
		creator = &c
	}
	m := Movie{
		ID:          uuid.NewString(),
		Source:      lm.Source,
		ExternalID:  lm.ExternalID,
		Title:       lm.Title,
		Overview:    lm.Overview,
		ReleaseDate: lm.ReleaseDate,
		Popularity:  lm.Popularity,
		Rating:      lm.Rating,
		CreatedBy:   creator,
		IsFeatured:  lm.IsFeatured,
		Status:      lm.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.movies[m.ID] = m
	if m.ExternalID != nil {
		s.byExternal[*m.ExternalID] = m.ID
	}
	s.movieGenres[m.ID] = s.knownGenreIDs(lm.GenreIDs)
	return s.hydrate(m), nil
}

func (s *MemoryStore) UpdateLocalMovie(_ context.Context, movieID string, p MoviePatch) (Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[movieID]
	if !ok || m.DeletedAt != nil {
		return Movie{}, ErrNotFound
	}
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Overview != nil {
		m.Overview = *p.Overview
	}
	if p.ReleaseDate != nil {
		d := *p.ReleaseDate
		m.ReleaseDate = &d
	}
	if p.Popularity != nil {
		m.Popularity = *p.Popularity
	}
	if p.Rating != nil {
		m.Rating = *p.Rating
	}
	if p.IsFeatured != nil {
		m.IsFeatured = *p.IsFeatured
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.GenreIDs != nil {
		s.movieGenres[movieID] = s.knownGenreIDs(p.GenreIDs)
	}
	m.UpdatedAt = s.now()
	s.movies[movieID] = m
	return s.hydrate(m), nil
}

func (s *MemoryStore) SoftDeleteMovie(_ context.Context, movieID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[movieID]
	if !ok || m.DeletedAt != nil {
		return ErrNotFound
	}
	now := s.now()
	m.DeletedAt = &now
	m.UpdatedAt = now
	s.movies[movieID] = m
	return nil
}

func (s *MemoryStore) GetMovie(_ context.Context, movieID string) (Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.movies[movieID]
	if !ok || m.DeletedAt != nil {
		return Movie{}, ErrNotFound
	}
	return s.hydrate(m), nil
}

func (s *MemoryStore) ListMovies(_ context.Context, f ListFilter) ([]Movie, int, error) {
	f = f.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	var matched []Movie
	for _, m := range s.movies {
		if m.DeletedAt != nil {
			continue
		}
		if f.Source != "" && m.Source != f.Source {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.CreatedBy != "" && (m.CreatedBy == nil || *m.CreatedBy != f.CreatedBy) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(m.Title), search) {
			continue
		}
		if f.GenreID != "" && !contains(s.movieGenres[m.ID], f.GenreID) {
			continue
		}
		matched = append(matched, m)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less bool
		switch f.Sort {
		case SortPopularity:
			less = a.Popularity < b.Popularity
		case SortRating:
			less = a.Rating < b.Rating
		case SortTitle:
			less = strings.ToLower(a.Title) < strings.ToLower(b.Title)
		case SortReleaseDate:
			less = dateBefore(a.ReleaseDate, b.ReleaseDate)
		default:
			less = a.CreatedAt.Before(b.CreatedAt)
		}
		if f.Desc {
			return !less && !equalBySort(a, b, f.Sort)
		}
		return less
	})

	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start >= total {
		return []Movie{}, total, nil
	}
	end := min(start+f.PerPage, total)
	out := make([]Movie, 0, end-start)
	for _, m := range matched[start:end] {
		out = append(out, s.hydrate(m))
	}
	return out, total, nil
}

func (s *MemoryStore) ListGenres(_ context.Context) ([]Genre, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Genre, 0, len(s.genres))
	for _, g := range s.genres {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) MovieVideos(_ context.Context, movieID string) ([]Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.movies[movieID]; !ok {
		return nil, ErrNotFound
	}
	return append([]Video{}, s.videos[movieID]...), nil
}

func (s *MemoryStore) AttachVideos(_ context.Context, movieID string, videos []Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.movies[movieID]
	if !ok {
		return ErrNotFound
	}
	if m.VideosFetchedAt != nil {
		return nil
	}
	now := s.now()
	m.VideosFetchedAt = &now
	s.movies[movieID] = m
	s.videos[movieID] = append([]Video(nil), videos...)
	return nil
}

// hydrate attaches genres and images. Callers hold s.mu.
func (s *MemoryStore) hydrate(m Movie) Movie {
	m.Genres = make([]Genre, 0, len(s.movieGenres[m.ID]))
	for _, id := range s.movieGenres[m.ID] {
		m.Genres = append(m.Genres, s.genres[id])
	}
	sort.Slice(m.Genres, func(i, j int) bool { return m.Genres[i].Name < m.Genres[j].Name })
	m.Images = append([]Image{}, s.images[m.ID]...)
	return m
}

// ── sync runs ──────────────────────────────────────────────────────────────

func (s *MemoryStore) ClaimRun(_ context.Context, run SyncRun) (SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.Status == RunRunning {
			return SyncRun{}, ErrRunActive
		}
	}
	now := s.now()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = RunRunning
	run.StartedAt = now
	run.HeartbeatAt = now
	run.FinishedAt = nil
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *MemoryStore) CheckpointRun(_ context.Context, runID string, cursor Cursor, totals Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.runningIndex(runID)
	if i < 0 {
		return ErrNotFound
	}
	s.runs[i].Cursor = cursor
	s.runs[i].Totals = totals
	s.runs[i].HeartbeatAt = s.now()
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, runID string, status RunStatus, totals Totals, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.runningIndex(runID)
	if i < 0 {
		return ErrNotFound
	}
	now := s.now()
	s.runs[i].Status = status
	s.runs[i].Totals = totals
	s.runs[i].Error = errMsg
	s.runs[i].FinishedAt = &now
	s.runs[i].HeartbeatAt = now
	return nil
}

func (s *MemoryStore) RunningRun(_ context.Context) (SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.Status == RunRunning {
			return r, nil
		}
	}
	return SyncRun{}, ErrNotFound
}

func (s *MemoryStore) LastFinishedRun(_ context.Context, mode SyncMode) (SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// runs is append-ordered; scan backwards for the newest finalized one.
	var best *SyncRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.Status == RunRunning || (mode != "" && r.Mode != mode) {
			continue
		}
		if best == nil || r.FinishedAt.After(*best.FinishedAt) {
			best = &s.runs[i]
		}
	}
	if best == nil {
		return SyncRun{}, ErrNotFound
	}
	return *best, nil
}

func (s *MemoryStore) FailStaleRuns(_ context.Context, cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for i := range s.runs {
		if s.runs[i].Status == RunRunning && s.runs[i].HeartbeatAt.Before(cutoff) {
			s.runs[i].Status = RunFailed
			s.runs[i].Error = reason
			s.runs[i].FinishedAt = &now
			n++
		}
	}
	return n, nil
}

// Runs returns a copy of the run log in creation order. Tests only.
func (s *MemoryStore) Runs() []SyncRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SyncRun(nil), s.runs...)
}

func (s *MemoryStore) runningIndex(runID string) int {
	for i, r := range s.runs {
		if r.ID == runID && r.Status == RunRunning {
			return i
		}
	}
	return -1
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dateBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func equalBySort(a, b Movie, key string) bool {
	switch key {
	case SortPopularity:
		return a.Popularity == b.Popularity
	case SortRating:
		return a.Rating == b.Rating
	case SortTitle:
		return strings.EqualFold(a.Title, b.Title)
	case SortReleaseDate:
		return !dateBefore(a.ReleaseDate, b.ReleaseDate) && !dateBefore(b.ReleaseDate, a.ReleaseDate)
	default:
		return a.CreatedAt.Equal(b.CreatedAt)
	}
}
