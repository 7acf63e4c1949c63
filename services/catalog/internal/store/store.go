package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateExternalID is returned when an insert races another insert for the same external id.
	ErrDuplicateExternalID = errors.New("duplicate external id")
	// ErrRunActive is returned by ClaimRun while another run holds the running slot.
	ErrRunActive = errors.New("sync run already active")
	// ErrForeignMovie is returned when a sync write targets a locally owned movie.
	ErrForeignMovie = errors.New("movie is not tmdb-sourced")
)

// Movie sources. Only SourceTMDB rows are ever written by sync.
const (
	SourceTMDB  = "tmdb"
	SourceUser  = "user"
	SourceAdmin = "admin"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

const (
	ImagePoster   = "poster"
	ImageBackdrop = "backdrop"
)

// Movie is a catalog entry. Source, CreatedBy, IsFeatured, Status and DeletedAt
// are owned locally and never written by sync.
type Movie struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	ExternalID  *int64     `json:"external_id,omitempty"`
	Title       string     `json:"title"`
	Overview    string     `json:"overview,omitempty"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	Popularity  float64    `json:"popularity"`
	Rating      float64    `json:"rating"`
	CreatedBy   *string    `json:"created_by,omitempty"`
	IsFeatured  bool       `json:"is_featured"`
	Status      string     `json:"status"`
	Genres      []Genre    `json:"genres"`
	Images      []Image    `json:"images"`

	Fingerprint     string     `json:"-"`
	VideosFetchedAt *time.Time `json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Image struct {
	Type   string `json:"image_type"`
	URL    string `json:"image_url"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

type Video struct {
	Name     string `json:"name"`
	Type     string `json:"video_type"`
	Site     string `json:"site"`
	Key      string `json:"video_key"`
	Official bool   `json:"official"`
}

// MovieWrite carries the externally mirrored fields of a movie.
type MovieWrite struct {
	ExternalID  int64
	Title       string
	Overview    string
	ReleaseDate *time.Time
	Popularity  float64
	Rating      float64
	Fingerprint string
	GenreIDs    []string
	Images      []Image
}

// LocalMovie is a movie created by a user or an admin. ExternalID optionally
// links it to a TMDB id, which keeps sync away from that id.
type LocalMovie struct {
	Source      string
	CreatedBy   string
	ExternalID  *int64
	Title       string
	Overview    string
	ReleaseDate *time.Time
	Popularity  float64
	Rating      float64
	IsFeatured  bool
	Status      string
	GenreIDs    []string
}

// MoviePatch is a user or admin edit. Nil fields are left unchanged; a non-nil
// empty GenreIDs clears the genres.
type MoviePatch struct {
	Title       *string
	Overview    *string
	ReleaseDate *time.Time
	Popularity  *float64
	Rating      *float64
	IsFeatured  *bool
	Status      *string
	GenreIDs    []string
}

// Sort keys accepted by ListMovies.
const (
	SortCreatedAt   = "created_at"
	SortPopularity  = "popularity"
	SortRating      = "rating"
	SortReleaseDate = "release_date"
	SortTitle       = "title"
)

// ListFilter narrows ListMovies. Zero values mean "no filter".
type ListFilter struct {
	Search    string
	GenreID   string
	Source    string
	Status    string
	CreatedBy string
	Sort      string
	Desc      bool
	Page      int
	PerPage   int
}

// CatalogStore is the movie/genre persistence port.
type CatalogStore interface {
	// Sync writes
	FindByExternalID(ctx context.Context, externalID int64) (Movie, error)
	InsertExternalMovie(ctx context.Context, w MovieWrite) (Movie, error)
	UpdateExternalMovie(ctx context.Context, movieID string, w MovieWrite) error
	EnsureGenres(ctx context.Context, names []string) ([]Genre, error)
	KnownExternalIDs(ctx context.Context, ids []int64) ([]int64, error)

	// Local writes
	CreateLocalMovie(ctx context.Context, m LocalMovie) (Movie, error)
	// UpdateLocalMovie applies p to a visible movie of any source.
	UpdateLocalMovie(ctx context.Context, movieID string, p MoviePatch) (Movie, error)
	SoftDeleteMovie(ctx context.Context, movieID string) error

	// Reads
	GetMovie(ctx context.Context, movieID string) (Movie, error)
	ListMovies(ctx context.Context, f ListFilter) ([]Movie, int, error)
	ListGenres(ctx context.Context) ([]Genre, error)

	// Videos
	MovieVideos(ctx context.Context, movieID string) ([]Video, error)
	AttachVideos(ctx context.Context, movieID string, videos []Video) error
}

// Normalize clamps paging and falls back to created_at for unknown sort keys.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
	switch f.Sort {
	case SortCreatedAt, SortPopularity, SortRating, SortReleaseDate, SortTitle:
	default:
		f.Sort = SortCreatedAt
	}
	return f
}
