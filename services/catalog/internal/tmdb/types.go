package tmdb

// Wire shapes of the TMDB v3 responses the client reads.

type movieResult struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	Overview     string        `json:"overview"`
	ReleaseDate  string        `json:"release_date"`
	Popularity   float64       `json:"popularity"`
	VoteAverage  float64       `json:"vote_average"`
	PosterPath   string        `json:"poster_path"`
	BackdropPath string        `json:"backdrop_path"`
	Adult        bool          `json:"adult"`
	GenreIDs     []int         `json:"genre_ids"`
	Genres       []genreResult `json:"genres"` // detail responses only
}

type listResponse struct {
	Page         int           `json:"page"`
	TotalPages   int           `json:"total_pages"`
	TotalResults int           `json:"total_results"`
	Results      []movieResult `json:"results"`
}

type changesResponse struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Results    []struct {
		ID    int64 `json:"id"`
		Adult *bool `json:"adult"`
	} `json:"results"`
}

type genreResult struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type genreListResponse struct {
	Genres []genreResult `json:"genres"`
}

type videoResult struct {
	Name     string `json:"name"`
	Key      string `json:"key"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Official bool   `json:"official"`
}

type videosResponse struct {
	ID      int64         `json:"id"`
	Results []videoResult `json:"results"`
}
