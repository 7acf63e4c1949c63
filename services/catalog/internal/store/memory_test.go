package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_EnsureGenres_CaseInsensitive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.EnsureGenres(ctx, []string{"Action", "Drama", " action "})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 genres, got %d: %+v", len(first), first)
	}

	second, _ := s.EnsureGenres(ctx, []string{"DRAMA", "Thriller"})
	if second[0].ID != first[1].ID {
		t.Fatalf("expected DRAMA to resolve to existing Drama, got %+v", second[0])
	}
	all, _ := s.ListGenres(ctx)
	if len(all) != 3 {
		t.Fatalf("expected 3 genres overall, got %d", len(all))
	}
}

func TestMemoryStore_InsertDuplicateExternalID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 550, Title: "Fight Club"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 550, Title: "Fight Club"})
	if !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("expected ErrDuplicateExternalID, got %v", err)
	}
}

func TestMemoryStore_UpdateKeepsLocalFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m, _ := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 1, Title: "Old"})
	s.mu.Lock()
	stored := s.movies[m.ID]
	stored.IsFeatured = true
	stored.Status = StatusArchived
	s.movies[m.ID] = stored
	s.mu.Unlock()

	if err := s.UpdateExternalMovie(ctx, m.ID, MovieWrite{ExternalID: 1, Title: "New"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.FindByExternalID(ctx, 1)
	if got.Title != "New" {
		t.Fatalf("expected title New, got %q", got.Title)
	}
	if !got.IsFeatured || got.Status != StatusArchived || got.Source != SourceTMDB {
		t.Fatalf("local fields changed: %+v", got)
	}
}

func TestMemoryStore_UpdateRejectsLocalMovie(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, err := s.CreateLocalMovie(ctx, LocalMovie{Source: SourceUser, CreatedBy: "u1", Title: "Home Video"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateExternalMovie(ctx, m.ID, MovieWrite{Title: "Hijacked"}); !errors.Is(err, ErrForeignMovie) {
		t.Fatalf("expected ErrForeignMovie for user movie, got %v", err)
	}
	if err := s.UpdateExternalMovie(ctx, "missing", MovieWrite{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_AttachVideosOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, _ := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 7, Title: "Se7en"})

	if err := s.AttachVideos(ctx, m.ID, []Video{{Key: "a", Type: "Trailer", Site: "YouTube"}}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s.AttachVideos(ctx, m.ID, []Video{{Key: "b", Type: "Teaser", Site: "YouTube"}}); err != nil {
		t.Fatalf("second attach: %v", err)
	}
	vids, _ := s.MovieVideos(ctx, m.ID)
	if len(vids) != 1 || vids[0].Key != "a" {
		t.Fatalf("expected only first attach to stick, got %+v", vids)
	}
	if err := s.AttachVideos(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListMovies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	genres, _ := s.EnsureGenres(ctx, []string{"Drama"})

	s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 1, Title: "Alpha", Popularity: 5, GenreIDs: []string{genres[0].ID}})
	s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 2, Title: "Beta", Popularity: 50})
	s.SeedMovie(Movie{Source: SourceUser, Title: "Gamma", Popularity: 10})
	deleted := time.Now()
	s.SeedMovie(Movie{Source: SourceUser, Title: "Deleted", DeletedAt: &deleted})

	all, total, _ := s.ListMovies(ctx, ListFilter{Sort: SortPopularity, Desc: true})
	if total != 3 {
		t.Fatalf("expected 3 visible movies, got %d", total)
	}
	if all[0].Title != "Beta" || all[2].Title != "Alpha" {
		t.Fatalf("unexpected order: %s, %s, %s", all[0].Title, all[1].Title, all[2].Title)
	}

	byGenre, total, _ := s.ListMovies(ctx, ListFilter{GenreID: genres[0].ID})
	if total != 1 || byGenre[0].Title != "Alpha" {
		t.Fatalf("genre filter: got %d %+v", total, byGenre)
	}

	bySource, total, _ := s.ListMovies(ctx, ListFilter{Source: SourceUser})
	if total != 1 || bySource[0].Title != "Gamma" {
		t.Fatalf("source filter: got %d", total)
	}

	search, total, _ := s.ListMovies(ctx, ListFilter{Search: "bet"})
	if total != 1 || search[0].Title != "Beta" {
		t.Fatalf("search: got %d", total)
	}

	page2, total, _ := s.ListMovies(ctx, ListFilter{Sort: SortTitle, Page: 2, PerPage: 2})
	if total != 3 || len(page2) != 1 || page2[0].Title != "Gamma" {
		t.Fatalf("pagination: total=%d page=%+v", total, page2)
	}
}

func TestMemoryStore_ClaimRun_Exclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimRun(ctx, SyncRun{Mode: ModeFull})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrRunActive):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 9 {
		t.Fatalf("expected 1 claim and 9 conflicts, got %d and %d", ok, conflicts)
	}
}

func TestMemoryStore_RunLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run, err := s.ClaimRun(ctx, SyncRun{Mode: ModeFull})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CheckpointRun(ctx, run.ID, Cursor{Endpoint: "popular", Page: 2}, Totals{Inserted: 40}); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	live, err := s.RunningRun(ctx)
	if err != nil || live.Cursor.Page != 2 || live.Totals.Inserted != 40 {
		t.Fatalf("running run: %+v err=%v", live, err)
	}
	if _, err := s.LastFinishedRun(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no finished run yet, got %v", err)
	}

	if err := s.FinishRun(ctx, run.ID, RunFailed, Totals{Inserted: 40}, "boom"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.FinishRun(ctx, run.ID, RunCompleted, Totals{}, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second finish to fail, got %v", err)
	}
	if err := s.CheckpointRun(ctx, run.ID, Cursor{}, Totals{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected checkpoint after finish to fail, got %v", err)
	}

	last, err := s.LastFinishedRun(ctx, ModeFull)
	if err != nil {
		t.Fatalf("last finished: %v", err)
	}
	if last.Status != RunFailed || last.Error != "boom" || last.Cursor.Page != 2 || last.FinishedAt == nil {
		t.Fatalf("unexpected last run: %+v", last)
	}
	if _, err := s.LastFinishedRun(ctx, ModeChanges); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no changes run, got %v", err)
	}
}

func TestMemoryStore_FailStaleRuns(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })

	run, _ := s.ClaimRun(ctx, SyncRun{Mode: ModeFull})
	_ = s.CheckpointRun(ctx, run.ID, Cursor{Endpoint: "popular", Page: 3}, Totals{Updated: 9})

	n, _ := s.FailStaleRuns(ctx, base.Add(-time.Minute), "stale")
	if n != 0 {
		t.Fatalf("fresh run must not be failed, got %d", n)
	}
	n, _ = s.FailStaleRuns(ctx, base.Add(time.Minute), "stale")
	if n != 1 {
		t.Fatalf("expected 1 stale run, got %d", n)
	}
	last, _ := s.LastFinishedRun(ctx, ModeFull)
	if last.Status != RunFailed || last.Cursor.Page != 3 || last.Totals.Updated != 9 {
		t.Fatalf("stale run should keep its cursor: %+v", last)
	}
	if _, err := s.ClaimRun(ctx, SyncRun{Mode: ModeFull}); err != nil {
		t.Fatalf("claim after stale cleanup: %v", err)
	}
}

func TestMemoryStore_LocalMovieLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	genres, _ := s.EnsureGenres(ctx, []string{"Drama", "Comedy"})
	ext := int64(42)

	m, err := s.CreateLocalMovie(ctx, LocalMovie{
		Source: SourceAdmin, CreatedBy: "admin-1", ExternalID: &ext, Title: "Curated",
		Rating: 9, IsFeatured: true, GenreIDs: []string{genres[0].ID, "unknown"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Source != SourceAdmin || m.Status != StatusActive || m.CreatedBy == nil || *m.CreatedBy != "admin-1" {
		t.Fatalf("unexpected movie: %+v", m)
	}
	if len(m.Genres) != 1 || m.Genres[0].Name != "Drama" {
		t.Fatalf("genres: %+v", m.Genres)
	}
	if _, err := s.CreateLocalMovie(ctx, LocalMovie{Source: SourceAdmin, ExternalID: &ext, Title: "Again"}); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("expected ErrDuplicateExternalID, got %v", err)
	}

	title, archived := "Curated (Restored)", StatusArchived
	got, err := s.UpdateLocalMovie(ctx, m.ID, MoviePatch{Title: &title, Status: &archived, GenreIDs: []string{genres[1].ID}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != title || got.Status != StatusArchived || got.Rating != 9 || !got.IsFeatured {
		t.Fatalf("patch applied wrongly: %+v", got)
	}
	if len(got.Genres) != 1 || got.Genres[0].Name != "Comedy" {
		t.Fatalf("genres not replaced: %+v", got.Genres)
	}
	got, _ = s.UpdateLocalMovie(ctx, m.ID, MoviePatch{})
	if len(got.Genres) != 1 {
		t.Fatal("nil GenreIDs must leave genres alone")
	}

	if err := s.SoftDeleteMovie(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetMovie(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted movie still visible: %v", err)
	}
	if err := s.SoftDeleteMovie(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.UpdateLocalMovie(ctx, m.ID, MoviePatch{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update after delete: %v", err)
	}
	// The row keeps its external id so sync still leaves it alone.
	if found, err := s.FindByExternalID(ctx, ext); err != nil || found.Source != SourceAdmin {
		t.Fatalf("find by external id: %+v, %v", found, err)
	}
}

func TestMemoryStore_ListMoviesByCreator(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, owner := range []string{"u1", "u2", "u1"} {
		if _, err := s.CreateLocalMovie(ctx, LocalMovie{Source: SourceUser, CreatedBy: owner, Title: "by " + owner}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 1, Title: "by tmdb"}); err != nil {
		t.Fatal(err)
	}
	_, total, err := s.ListMovies(ctx, ListFilter{CreatedBy: "u1", Source: SourceUser})
	if err != nil || total != 2 {
		t.Fatalf("total = %d, err = %v", total, err)
	}
}

func TestMemoryStore_VideosKeepAttachOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m, _ := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 7, Title: "Se7en"})
	in := []Video{{Key: "z", Official: true}, {Key: "a"}, {Key: "m"}}
	if err := s.AttachVideos(ctx, m.ID, in); err != nil {
		t.Fatal(err)
	}
	got, _ := s.MovieVideos(ctx, m.ID)
	if len(got) != 3 || got[0].Key != "z" || got[1].Key != "a" || got[2].Key != "m" {
		t.Fatalf("order = %+v", got)
	}
}
