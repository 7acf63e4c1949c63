package tmdb

import (
	"sort"
	"strings"
	"time"
)

// Endpoint names, as stored in a run cursor.
const (
	EndpointPopular    = "popular"
	EndpointNowPlaying = "now_playing"
	EndpointChanges    = "changes"
)

// MaxPages is TMDB's hard limit for paginated endpoints.
const MaxPages = 500

// ChangesWindow is the widest range /movie/changes accepts.
const ChangesWindow = 14 * 24 * time.Hour

// Endpoint is one paginated source and its page cap.
type Endpoint struct {
	Name    string
	Path    string
	PageCap int
	idsOnly bool
}

var endpoints = map[string]Endpoint{
	EndpointPopular:    {Name: EndpointPopular, Path: "/movie/popular", PageCap: MaxPages},
	EndpointNowPlaying: {Name: EndpointNowPlaying, Path: "/movie/now_playing", PageCap: 3},
	EndpointChanges:    {Name: EndpointChanges, Path: "/movie/changes", PageCap: MaxPages, idsOnly: true},
}

// LookupEndpoint returns the endpoint registered under name.
func LookupEndpoint(name string) (Endpoint, bool) {
	e, ok := endpoints[name]
	return e, ok
}

// Record is one movie as the catalog sees it, independent of the endpoint it came from.
type Record struct {
	ExternalID   int64
	Title        string
	Overview     string
	ReleaseDate  *time.Time
	Popularity   float64
	Rating       float64
	PosterPath   string
	BackdropPath string
	GenreIDs     []int
	// ChangedAt is only known for records reached through /movie/changes.
	ChangedAt *time.Time
}

// Page is one fetched page. HasMore is false on the last page of an endpoint.
type Page struct {
	Endpoint   string
	Number     int
	TotalPages int
	Records    []Record
	HasMore    bool
}

type Video struct {
	Name     string
	Type     string
	Site     string
	Key      string
	Official bool
}

const maxVideos = 5

var (
	videoTypes = map[string]bool{"trailer": true, "teaser": true}
	videoSites = map[string]bool{"youtube": true, "vimeo": true}
)

func toRecord(m movieResult) Record {
	r := Record{
		ExternalID:   m.ID,
		Title:        strings.TrimSpace(m.Title),
		Overview:     strings.TrimSpace(m.Overview),
		ReleaseDate:  parseDate(m.ReleaseDate),
		Popularity:   m.Popularity,
		Rating:       m.VoteAverage,
		PosterPath:   strings.TrimSpace(m.PosterPath),
		BackdropPath: strings.TrimSpace(m.BackdropPath),
		GenreIDs:     m.GenreIDs,
	}
	if len(r.GenreIDs) == 0 && len(m.Genres) > 0 {
		r.GenreIDs = make([]int, 0, len(m.Genres))
		for _, g := range m.Genres {
			r.GenreIDs = append(r.GenreIDs, g.ID)
		}
	}
	return r
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// filterVideos keeps trailers and teasers hosted on YouTube or Vimeo,
// official ones first, de-duplicated by key and capped at five.
func filterVideos(in []videoResult) []Video {
	seen := make(map[string]bool, len(in))
	out := make([]Video, 0, maxVideos)
	for _, v := range in {
		key := strings.TrimSpace(v.Key)
		if key == "" || seen[key] {
			continue
		}
		if !videoTypes[strings.ToLower(v.Type)] || !videoSites[strings.ToLower(v.Site)] {
			continue
		}
		seen[key] = true
		out = append(out, Video{Name: strings.TrimSpace(v.Name), Type: v.Type, Site: v.Site, Key: key, Official: v.Official})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Official && !out[j].Official })
	if len(out) > maxVideos {
		out = out[:maxVideos]
	}
	return out
}

// ImageURL joins an image base, a size segment and a TMDB file path.
// An empty path yields "".
func ImageURL(base, size, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + "/" + size + path
}

// Poster and backdrop sizes used for stored image URLs.
const (
	PosterSize   = "w500"
	BackdropSize = "w1280"
)
