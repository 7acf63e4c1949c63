// Package handlers exposes the catalog over HTTP.
package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/auth"
)

// Mount registers public catalog reads, the signed-in user's movie routes and
// the admin routes. Admin routes require a valid bearer token with the admin
// role.
func Mount(r chi.Router, movies MovieService, sync SyncCoordinator, verifier auth.JWTVerifier, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/movies", ListMovies(movies, log))
		r.Get("/movies/popular", PopularMovies(movies, log))
		r.Get("/movies/{movie_id}", GetMovie(movies, log))
		r.Get("/genres", ListGenres(movies, log))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Get("/movies/me", MyMovies(movies, log))
			r.Post("/movies/user", CreateUserMovie(movies, log))
			r.Put("/movies/user/{movie_id}", UpdateUserMovie(movies, log))
			r.Delete("/movies/user/{movie_id}", DeleteUserMovie(movies, log))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireUser(verifier))
			r.Use(auth.RequireAdmin)

			r.Get("/movies", ListMovies(movies, log))
			r.Post("/movies", CreateAdminMovie(movies, log))
			r.Put("/movies/{movie_id}", UpdateAdminMovie(movies, log))
			r.Delete("/movies/{movie_id}", DeleteAdminMovie(movies, log))

			r.Post("/sync/movies", StartSync(sync, log))
			r.Get("/sync/status", SyncStatus(sync, log))
			r.Get("/sync/last", LastSync(sync, log))
		})
	})
}
