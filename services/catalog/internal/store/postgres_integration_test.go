package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/db"
)

// setupPostgres starts a disposable Postgres, applies the embedded migrations
// and returns a pool. Skipped unless TEST_INTEGRATION is set.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("catalog_test"),
		postgres.WithUsername("catalog"),
		postgres.WithPassword("catalog"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { testcontainers.CleanupContainer(t, container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := db.Migrate(dsn, Migrations, MigrationsDir, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := db.OpenDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStore_MovieRoundTrip(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPostgresStore(pool)
	ctx := context.Background()

	genres, err := s.EnsureGenres(ctx, []string{"Drama", "drama", "Crime"})
	if err != nil {
		t.Fatalf("ensure genres: %v", err)
	}
	if len(genres) != 2 {
		t.Fatalf("expected 2 genres, got %+v", genres)
	}

	release := time.Date(1999, 10, 15, 0, 0, 0, 0, time.UTC)
	m, err := s.InsertExternalMovie(ctx, MovieWrite{
		ExternalID:  550,
		Title:       "Fight Club",
		ReleaseDate: &release,
		Popularity:  61.4,
		Rating:      8.4,
		Fingerprint: "fp1",
		GenreIDs:    []string{genres[0].ID},
		Images:      []Image{{Type: ImagePoster, URL: "https://img/w500/a.jpg"}},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 550, Title: "Dup"}); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("expected ErrDuplicateExternalID, got %v", err)
	}

	if err := s.UpdateExternalMovie(ctx, m.ID, MovieWrite{
		ExternalID: 550, Title: "Fight Club", Fingerprint: "fp2",
		GenreIDs: []string{genres[1].ID},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetMovie(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fingerprint != "fp2" || len(got.Genres) != 1 || got.Genres[0].Name != "Crime" || len(got.Images) != 0 {
		t.Fatalf("update did not replace associations: %+v", got)
	}

	var outbox int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM catalog_outbox`).Scan(&outbox); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outbox != 2 {
		t.Fatalf("expected 2 outbox rows, got %d", outbox)
	}

	known, err := s.KnownExternalIDs(ctx, []int64{550, 551})
	if err != nil || len(known) != 1 || known[0] != 550 {
		t.Fatalf("known ids: %v err=%v", known, err)
	}

	if err := s.AttachVideos(ctx, m.ID, nil); err != nil {
		t.Fatalf("attach empty videos: %v", err)
	}
	stamped, _ := s.GetMovie(ctx, m.ID)
	if stamped.VideosFetchedAt == nil {
		t.Fatal("videos_fetched_at should be stamped for zero videos")
	}

	list, total, err := s.ListMovies(ctx, ListFilter{Search: "fight", Sort: SortPopularity, Desc: true})
	if err != nil || total != 1 || list[0].ID != m.ID {
		t.Fatalf("list: total=%d err=%v", total, err)
	}
}

func TestPostgresStore_ClaimIsExclusive(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPostgresStore(pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimRun(ctx, SyncRun{Mode: ModeFull})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrRunActive):
				conflicts++
			default:
				t.Errorf("claim: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != 7 {
		t.Fatalf("expected 1 claim and 7 conflicts, got %d and %d", ok, conflicts)
	}
}

func TestPostgresStore_RunLifecycle(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPostgresStore(pool)
	ctx := context.Background()

	run, err := s.ClaimRun(ctx, SyncRun{Mode: ModeChanges})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.CheckpointRun(ctx, run.ID, Cursor{Endpoint: "changes", Page: 4}, Totals{Updated: 12}); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	n, err := s.FailStaleRuns(ctx, time.Now().Add(time.Hour), "stale")
	if err != nil || n != 1 {
		t.Fatalf("fail stale: n=%d err=%v", n, err)
	}
	if err := s.FinishRun(ctx, run.ID, RunCompleted, Totals{}, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finishing a failed run should be rejected, got %v", err)
	}

	last, err := s.LastFinishedRun(ctx, ModeChanges)
	if err != nil {
		t.Fatalf("last finished: %v", err)
	}
	if last.Status != RunFailed || last.Cursor != (Cursor{Endpoint: "changes", Page: 4}) || last.Totals.Updated != 12 {
		t.Fatalf("unexpected last run: %+v", last)
	}

	resumed, err := s.ClaimRun(ctx, SyncRun{Mode: ModeChanges, Cursor: last.Cursor, Totals: last.Totals, ResumedFrom: &last.ID})
	if err != nil {
		t.Fatalf("claim resumed: %v", err)
	}
	if resumed.ResumedFrom == nil || *resumed.ResumedFrom != last.ID {
		t.Fatalf("resumed_from not stored: %+v", resumed)
	}
}

func TestPostgresStore_LocalMovieWrites(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPostgresStore(pool)
	ctx := context.Background()

	genres, _ := s.EnsureGenres(ctx, []string{"Drama", "Comedy"})
	ext := int64(603)
	m, err := s.CreateLocalMovie(ctx, LocalMovie{
		Source: SourceAdmin, CreatedBy: "admin-1", ExternalID: &ext, Title: "The Matrix (Director's Pick)",
		IsFeatured: true, GenreIDs: []string{genres[0].ID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != StatusActive || m.CreatedBy == nil || *m.CreatedBy != "admin-1" || len(m.Genres) != 1 {
		t.Fatalf("unexpected created movie: %+v", m)
	}
	if _, err := s.CreateLocalMovie(ctx, LocalMovie{Source: SourceAdmin, ExternalID: &ext, Title: "dup"}); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("expected ErrDuplicateExternalID, got %v", err)
	}
	if _, err := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: ext, Title: "The Matrix"}); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("sync insert over admin movie: %v", err)
	}

	rating := 9.1
	got, err := s.UpdateLocalMovie(ctx, m.ID, MoviePatch{Rating: &rating, GenreIDs: []string{}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Rating != rating || got.Title != m.Title || len(got.Genres) != 0 {
		t.Fatalf("patch applied wrongly: %+v", got)
	}

	if err := s.SoftDeleteMovie(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.SoftDeleteMovie(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := s.GetMovie(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted movie visible: %v", err)
	}

	var outbox int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM catalog_outbox WHERE payload->>'change' IN ('created','updated','deleted')`).Scan(&outbox); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outbox != 3 {
		t.Fatalf("expected 3 outbox rows, got %d", outbox)
	}
}

func TestPostgresStore_VideosKeepAttachOrder(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPostgresStore(pool)
	ctx := context.Background()

	m, err := s.InsertExternalMovie(ctx, MovieWrite{ExternalID: 807, Title: "Se7en"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	in := []Video{
		{Key: "zz", Name: "Official Trailer", Site: "YouTube", Type: "Trailer", Official: true},
		{Key: "aa", Name: "Fan Cut", Site: "YouTube", Type: "Trailer"},
	}
	if err := s.AttachVideos(ctx, m.ID, in); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, err := s.MovieVideos(ctx, m.ID)
	if err != nil {
		t.Fatalf("videos: %v", err)
	}
	if len(got) != 2 || got[0].Key != "zz" || got[1].Key != "aa" {
		t.Fatalf("order = %+v", got)
	}
}
