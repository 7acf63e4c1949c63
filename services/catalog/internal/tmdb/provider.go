package tmdb

import "context"

// Source is the port the sync coordinator pages through.
type Source interface {
	FetchPage(ctx context.Context, endpoint string, page int) (Page, error)
	Genres(ctx context.Context) (map[int]string, error)
}

// VideoSource looks up trailers for a single movie.
type VideoSource interface {
	Videos(ctx context.Context, externalID int64) ([]Video, error)
}

var (
	_ Source      = (*Client)(nil)
	_ VideoSource = (*Client)(nil)
)
