package syncrun

import (
	"github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/tmdb"
)

// Plan lists the endpoints a mode walks, in order.
func Plan(mode store.SyncMode) []string {
	switch mode {
	case store.ModeFull:
		return []string{tmdb.EndpointPopular, tmdb.EndpointNowPlaying}
	case store.ModeChanges:
		return []string{tmdb.EndpointChanges}
	default:
		return nil
	}
}

// resumePoint returns the plan index and page to start from given the last
// checkpointed cursor. An unknown or empty cursor starts at the beginning.
func resumePoint(plan []string, c store.Cursor) (int, int) {
	if c.Endpoint == "" {
		return 0, 1
	}
	for i, ep := range plan {
		if ep == c.Endpoint {
			return i, c.Page + 1
		}
	}
	return 0, 1
}
