package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/movie-catalog/internal/platform/api"
	"github.com/example/movie-catalog/services/catalog/internal/store"
)

func doJSON(t *testing.T, h http.Handler, method, url, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeMovie(t *testing.T, rr *httptest.ResponseRecorder) store.Movie {
	t.Helper()
	var m store.Movie
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decode movie: %v", err)
	}
	return m
}

func TestUserMovies_CreateUpdateDelete(t *testing.T) {
	st := store.NewMemoryStore()
	r := newRouter(st, &stubSync{})
	owner := token(t, "u1", "user")

	rr := doJSON(t, r, http.MethodPost, "/v1/movies/user", owner, `{"title":"Home Video","release_date":"2024-05-01","is_featured":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeMovie(t, rr)
	if m.Source != store.SourceUser || m.IsFeatured {
		t.Fatalf("unexpected movie: %+v", m)
	}

	rr = doJSON(t, r, http.MethodPut, "/v1/movies/user/"+m.ID, token(t, "u2", "user"), `{"title":"Stolen"}`)
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "FORBIDDEN" {
		t.Fatalf("expected 403 for another user, got %d", rr.Code)
	}

	rr = doJSON(t, r, http.MethodPut, "/v1/movies/user/"+m.ID, owner, `{"overview":"shot on a phone"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeMovie(t, rr); got.Overview != "shot on a phone" || got.Title != "Home Video" {
		t.Fatalf("update: %+v", got)
	}

	rr = do(t, r, http.MethodGet, "/v1/movies/me", owner)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var page api.ListResponse[store.Movie]
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 1 || page.Data[0].ID != m.ID {
		t.Fatalf("my movies: %+v", page.Data)
	}

	rr = do(t, r, http.MethodDelete, "/v1/movies/user/"+m.ID, owner)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = do(t, r, http.MethodGet, "/v1/movies/"+m.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected deleted movie to be 404, got %d", rr.Code)
	}
	rr = do(t, r, http.MethodDelete, "/v1/movies/user/"+m.ID, owner)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestUserMovies_RequireToken(t *testing.T) {
	r := newRouter(store.NewMemoryStore(), &stubSync{})
	rr := doJSON(t, r, http.MethodPost, "/v1/movies/user", "", `{"title":"x"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = do(t, r, http.MethodGet, "/v1/movies/me", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestUserMovies_BadInput(t *testing.T) {
	r := newRouter(store.NewMemoryStore(), &stubSync{})
	tok := token(t, "u1", "user")

	rr := doJSON(t, r, http.MethodPost, "/v1/movies/user", tok, `{"title":`)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "INVALID_JSON" {
		t.Fatalf("expected INVALID_JSON, got %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodPost, "/v1/movies/user", tok, `{"overview":"no title"}`)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "VALIDATION_TITLE" {
		t.Fatalf("expected VALIDATION_TITLE, got %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodPost, "/v1/movies/user", tok, `{"title":"ok","release_date":"yesterday"}`)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "VALIDATION_RELEASE_DATE" {
		t.Fatalf("expected VALIDATION_RELEASE_DATE, got %d", rr.Code)
	}
}

func TestAdminMovies_RequireAdmin(t *testing.T) {
	r := newRouter(store.NewMemoryStore(), &stubSync{})
	rr := doJSON(t, r, http.MethodPost, "/v1/admin/movies", token(t, "u1", "user"), `{"title":"x"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestAdminMovies_Lifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	r := newRouter(st, &stubSync{})
	admin := token(t, "admin-1", "admin")

	rr := doJSON(t, r, http.MethodPost, "/v1/admin/movies", admin, `{"title":"The Matrix","external_id":603,"rating":8.7,"is_featured":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	m := decodeMovie(t, rr)
	if m.Source != store.SourceAdmin || !m.IsFeatured || m.ExternalID == nil || *m.ExternalID != 603 {
		t.Fatalf("unexpected movie: %+v", m)
	}

	rr = doJSON(t, r, http.MethodPost, "/v1/admin/movies", admin, `{"title":"Again","external_id":603}`)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "DUPLICATE_EXTERNAL_ID" {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodPost, "/v1/admin/movies", admin, `{"title":"x","genre_ids":["nope"]}`)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "GENRE_NOT_FOUND" {
		t.Fatalf("expected GENRE_NOT_FOUND, got %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodPut, "/v1/admin/movies/"+m.ID, admin, `{"status":"draft"}`)
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "VALIDATION_STATUS" {
		t.Fatalf("expected VALIDATION_STATUS, got %d", rr.Code)
	}

	rr = doJSON(t, r, http.MethodPut, "/v1/admin/movies/"+m.ID, admin, `{"status":"archived"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeMovie(t, rr); got.Status != store.StatusArchived {
		t.Fatalf("status = %q", got.Status)
	}

	rr = do(t, r, http.MethodGet, "/v1/admin/movies?source=admin", admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = do(t, r, http.MethodDelete, "/v1/admin/movies/"+m.ID, admin)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = doJSON(t, r, http.MethodPut, "/v1/admin/movies/"+m.ID, admin, `{"title":"back"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}
