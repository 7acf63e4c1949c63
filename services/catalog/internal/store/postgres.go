package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	catalogEventMovieUpserted = "catalog.movie.upserted"

	pgUniqueViolation = "23505"
)

// PostgresStore is the production Postgres-backed implementation of
// CatalogStore and SyncRunStore.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const movieColumns = `id::text, source, external_id, title, overview, release_date, popularity, rating,
created_by, is_featured, status, sync_fingerprint, videos_fetched_at, created_at, updated_at, deleted_at`

// ── Sync writes ────────────────────────────────────────────────────────────

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID int64) (Movie, error) {
	row := s.db.QueryRow(ctx, `SELECT `+movieColumns+` FROM movies WHERE external_id=$1`, externalID)
	m, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movie{}, ErrNotFound
		}
		return Movie{}, fmt.Errorf("find movie by external id: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) InsertExternalMovie(ctx context.Context, w MovieWrite) (Movie, error) {
	now := time.Now().UTC()
	id := uuid.New()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movie{}, fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO movies (id, source, external_id, title, overview, release_date, popularity, rating, status, sync_fingerprint, created_at, updated_at)
VALUES ($1,'tmdb',$2,$3,$4,$5,$6,$7,'active',$8,$9,$9)`,
		id, w.ExternalID, w.Title, w.Overview, w.ReleaseDate, w.Popularity, w.Rating, w.Fingerprint, now,
	); err != nil {
		if isUniqueViolation(err) {
			return Movie{}, ErrDuplicateExternalID
		}
		return Movie{}, fmt.Errorf("insert movie: %w", err)
	}
	if err := replaceGenres(ctx, tx, id, w.GenreIDs); err != nil {
		return Movie{}, err
	}
	if err := replaceImages(ctx, tx, id, w.Images); err != nil {
		return Movie{}, err
	}
	if err := insertOutboxEvent(ctx, tx, map[string]any{"movie_id": id.String(), "external_id": w.ExternalID, "change": "inserted"}); err != nil {
		return Movie{}, fmt.Errorf("db outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Movie{}, fmt.Errorf("db commit: %w", err)
	}

	ext := w.ExternalID
	return Movie{
		ID: id.String(), Source: SourceTMDB, ExternalID: &ext, Title: w.Title, Overview: w.Overview,
		ReleaseDate: w.ReleaseDate, Popularity: w.Popularity, Rating: w.Rating, Status: StatusActive,
		Fingerprint: w.Fingerprint, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateExternalMovie(ctx context.Context, movieID string, w MovieWrite) error {
	id, err := uuid.Parse(strings.TrimSpace(movieID))
	if err != nil {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// source, created_by, is_featured, status and deleted_at stay as they are.
	tag, err := tx.Exec(ctx, `
UPDATE movies
SET title=$2, overview=$3, release_date=$4, popularity=$5, rating=$6, sync_fingerprint=$7, updated_at=now()
WHERE id=$1 AND source='tmdb'`,
		id, w.Title, w.Overview, w.ReleaseDate, w.Popularity, w.Rating, w.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("update movie: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var source string
		if err := tx.QueryRow(ctx, `SELECT source FROM movies WHERE id=$1`, id).Scan(&source); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("movie source: %w", err)
		}
		return ErrForeignMovie
	}
	if err := replaceGenres(ctx, tx, id, w.GenreIDs); err != nil {
		return err
	}
	if err := replaceImages(ctx, tx, id, w.Images); err != nil {
		return err
	}
	if err := insertOutboxEvent(ctx, tx, map[string]any{"movie_id": movieID, "external_id": w.ExternalID, "change": "updated"}); err != nil {
		return fmt.Errorf("db outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureGenres(ctx context.Context, names []string) ([]Genre, error) {
	var clean, keys []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		k := strings.ToLower(n)
		if n == "" || seen[k] {
			continue
		}
		seen[k] = true
		clean = append(clean, n)
		keys = append(keys, k)
	}
	if len(clean) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, n := range clean {
		if _, err := tx.Exec(ctx,
			`INSERT INTO genres (id, name) VALUES ($1,$2) ON CONFLICT ((lower(name))) DO NOTHING`,
			uuid.New(), n,
		); err != nil {
			return nil, fmt.Errorf("insert genre %q: %w", n, err)
		}
	}

	rows, err := tx.Query(ctx, `SELECT id::text, name FROM genres WHERE lower(name) = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("select genres: %w", err)
	}
	byKey := make(map[string]Genre, len(keys))
	for rows.Next() {
		var g Genre
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan genre: %w", err)
		}
		byKey[strings.ToLower(g.Name)] = g
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("db commit: %w", err)
	}

	out := make([]Genre, 0, len(keys))
	for _, k := range keys {
		if g, ok := byKey[k]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *PostgresStore) KnownExternalIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT external_id FROM movies WHERE source='tmdb' AND external_id = ANY($1::bigint[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("known external ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ── Local writes ───────────────────────────────────────────────────────────

func (s *PostgresStore) CreateLocalMovie(ctx context.Context, lm LocalMovie) (Movie, error) {
	if lm.Status == "" {
		lm.Status = StatusActive
	}
	now := time.Now().UTC()
	id := uuid.New()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movie{}, fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO movies (id, source, external_id, title, overview, release_date, popularity, rating, created_by, is_featured, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11,$12,$12)`,
		id, lm.Source, lm.ExternalID, lm.Title, lm.Overview, lm.ReleaseDate, lm.Popularity, lm.Rating,
		lm.CreatedBy, lm.IsFeatured, lm.Status, now,
	); err != nil {
		if isUniqueViolation(err) {
			return Movie{}, ErrDuplicateExternalID
		}
		return Movie{}, fmt.Errorf("insert local movie: %w", err)
	}
	if err := replaceGenres(ctx, tx, id, lm.GenreIDs); err != nil {
		return Movie{}, err
	}
	if err := insertOutboxEvent(ctx, tx, map[string]any{"movie_id": id.String(), "external_id": lm.ExternalID, "change": "created"}); err != nil {
		return Movie{}, fmt.Errorf("db outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Movie{}, fmt.Errorf("db commit: %w", err)
	}
	return s.GetMovie(ctx, id.String())
}

func (s *PostgresStore) UpdateLocalMovie(ctx context.Context, movieID string, p MoviePatch) (Movie, error) {
	id, err := uuid.Parse(strings.TrimSpace(movieID))
	if err != nil {
		return Movie{}, ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movie{}, fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE movies SET
    title        = COALESCE($2, title),
    overview     = COALESCE($3, overview),
    release_date = COALESCE($4, release_date),
    popularity   = COALESCE($5, popularity),
    rating       = COALESCE($6, rating),
    is_featured  = COALESCE($7, is_featured),
    status       = COALESCE($8, status),
    updated_at   = now()
WHERE id=$1 AND deleted_at IS NULL`,
		id, p.Title, p.Overview, p.ReleaseDate, p.Popularity, p.Rating, p.IsFeatured, p.Status,
	)
	if err != nil {
		return Movie{}, fmt.Errorf("update local movie: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Movie{}, ErrNotFound
	}
	if p.GenreIDs != nil {
		if err := replaceGenres(ctx, tx, id, p.GenreIDs); err != nil {
			return Movie{}, err
		}
	}
	if err := insertOutboxEvent(ctx, tx, map[string]any{"movie_id": id.String(), "change": "updated"}); err != nil {
		return Movie{}, fmt.Errorf("db outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Movie{}, fmt.Errorf("db commit: %w", err)
	}
	return s.GetMovie(ctx, id.String())
}

func (s *PostgresStore) SoftDeleteMovie(ctx context.Context, movieID string) error {
	id, err := uuid.Parse(strings.TrimSpace(movieID))
	if err != nil {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE movies SET deleted_at=now(), updated_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete movie: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := insertOutboxEvent(ctx, tx, map[string]any{"movie_id": id.String(), "change": "deleted"}); err != nil {
		return fmt.Errorf("db outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db commit: %w", err)
	}
	return nil
}

// ── Reads ──────────────────────────────────────────────────────────────────

func (s *PostgresStore) GetMovie(ctx context.Context, movieID string) (Movie, error) {
	if _, err := uuid.Parse(strings.TrimSpace(movieID)); err != nil {
		return Movie{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+movieColumns+` FROM movies WHERE id=$1::uuid AND deleted_at IS NULL`, movieID)
	m, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movie{}, ErrNotFound
		}
		return Movie{}, fmt.Errorf("get movie: %w", err)
	}
	out := []Movie{m}
	if err := s.hydrate(ctx, out); err != nil {
		return Movie{}, err
	}
	return out[0], nil
}

var sortColumns = map[string]string{
	SortCreatedAt:   "created_at",
	SortPopularity:  "popularity",
	SortRating:      "rating",
	SortReleaseDate: "release_date",
	SortTitle:       "lower(title)",
}

func (s *PostgresStore) ListMovies(ctx context.Context, f ListFilter) ([]Movie, int, error) {
	f = f.Normalize()

	where := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Source != "" {
		where = append(where, "source = "+arg(f.Source))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.CreatedBy != "" {
		where = append(where, "created_by = "+arg(f.CreatedBy))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		where = append(where, "title ILIKE "+arg("%"+escapeLike(q)+"%"))
	}
	if f.GenreID != "" {
		if _, err := uuid.Parse(f.GenreID); err != nil {
			return []Movie{}, 0, nil
		}
		where = append(where, "EXISTS (SELECT 1 FROM movie_genres mg WHERE mg.movie_id = movies.id AND mg.genre_id = "+arg(f.GenreID)+"::uuid)")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM movies WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count movies: %w", err)
	}

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	q := fmt.Sprintf(`SELECT %s FROM movies WHERE %s ORDER BY %s %s NULLS LAST, id LIMIT %s OFFSET %s`,
		movieColumns, cond, sortColumns[f.Sort], dir, arg(f.PerPage), arg((f.Page-1)*f.PerPage))
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movies: %w", err)
	}
	defer rows.Close()

	out := []Movie{}
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan movie: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := s.hydrate(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) ListGenres(ctx context.Context) ([]Genre, error) {
	rows, err := s.db.Query(ctx, `SELECT id::text, name FROM genres ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list genres: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Genre])
}

// ── Videos ─────────────────────────────────────────────────────────────────

func (s *PostgresStore) MovieVideos(ctx context.Context, movieID string) ([]Video, error) {
	rows, err := s.db.Query(ctx, `
SELECT name, video_type, site, video_key, official
FROM movie_videos WHERE movie_id=$1::uuid ORDER BY position, video_key`, movieID)
	if err != nil {
		return nil, fmt.Errorf("movie videos: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Video])
}

func (s *PostgresStore) AttachVideos(ctx context.Context, movieID string, videos []Video) error {
	id, err := uuid.Parse(strings.TrimSpace(movieID))
	if err != nil {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE movies SET videos_fetched_at=now() WHERE id=$1 AND videos_fetched_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("stamp videos: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM movies WHERE id=$1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("movie exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		// Another caller attached first.
		return nil
	}

	for i, v := range videos {
		if _, err := tx.Exec(ctx, `
INSERT INTO movie_videos (id, movie_id, name, video_type, site, video_key, official, position)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (movie_id, video_key) DO NOTHING`,
			uuid.New(), id, v.Name, v.Type, v.Site, v.Key, v.Official, i,
		); err != nil {
			return fmt.Errorf("insert video: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("db commit: %w", err)
	}
	return nil
}

// ── helpers ────────────────────────────────────────────────────────────────

func scanMovie(row pgx.Row) (Movie, error) {
	var m Movie
	err := row.Scan(&m.ID, &m.Source, &m.ExternalID, &m.Title, &m.Overview, &m.ReleaseDate, &m.Popularity, &m.Rating,
		&m.CreatedBy, &m.IsFeatured, &m.Status, &m.Fingerprint, &m.VideosFetchedAt, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	return m, err
}

// hydrate loads genres and images for movies in two batched queries.
func (s *PostgresStore) hydrate(ctx context.Context, movies []Movie) error {
	if len(movies) == 0 {
		return nil
	}
	ids := make([]string, len(movies))
	idx := make(map[string]int, len(movies))
	for i := range movies {
		ids[i] = movies[i].ID
		idx[movies[i].ID] = i
		movies[i].Genres = []Genre{}
		movies[i].Images = []Image{}
	}

	rows, err := s.db.Query(ctx, `
SELECT mg.movie_id::text, g.id::text, g.name
FROM movie_genres mg JOIN genres g ON g.id = mg.genre_id
WHERE mg.movie_id = ANY($1::uuid[]) ORDER BY g.name`, ids)
	if err != nil {
		return fmt.Errorf("load genres: %w", err)
	}
	for rows.Next() {
		var movieID string
		var g Genre
		if err := rows.Scan(&movieID, &g.ID, &g.Name); err != nil {
			rows.Close()
			return fmt.Errorf("scan genre: %w", err)
		}
		i := idx[movieID]
		movies[i].Genres = append(movies[i].Genres, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(ctx, `
SELECT movie_id::text, image_type, image_url, width, height
FROM movie_images WHERE movie_id = ANY($1::uuid[]) ORDER BY image_type DESC, created_at`, ids)
	if err != nil {
		return fmt.Errorf("load images: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var movieID string
		var im Image
		if err := rows.Scan(&movieID, &im.Type, &im.URL, &im.Width, &im.Height); err != nil {
			return fmt.Errorf("scan image: %w", err)
		}
		i := idx[movieID]
		movies[i].Images = append(movies[i].Images, im)
	}
	return rows.Err()
}

func replaceGenres(ctx context.Context, tx pgx.Tx, movieID uuid.UUID, genreIDs []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM movie_genres WHERE movie_id=$1`, movieID); err != nil {
		return fmt.Errorf("clear genres: %w", err)
	}
	if len(genreIDs) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO movie_genres (movie_id, genre_id)
SELECT $1, g.id FROM genres g WHERE g.id = ANY($2::uuid[])
ON CONFLICT DO NOTHING`, movieID, genreIDs); err != nil {
		return fmt.Errorf("attach genres: %w", err)
	}
	return nil
}

func replaceImages(ctx context.Context, tx pgx.Tx, movieID uuid.UUID, images []Image) error {
	if _, err := tx.Exec(ctx, `DELETE FROM movie_images WHERE movie_id=$1`, movieID); err != nil {
		return fmt.Errorf("clear images: %w", err)
	}
	for _, im := range images {
		if _, err := tx.Exec(ctx,
			`INSERT INTO movie_images (id, movie_id, image_type, image_url, width, height) VALUES ($1,$2,$3,$4,$5,$6)`,
			uuid.New(), movieID, im.Type, im.URL, im.Width, im.Height,
		); err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
	}
	return nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO catalog_outbox (id, event_type, payload) VALUES ($1,$2,$3)`,
		uuid.New(), catalogEventMovieUpserted, b,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
