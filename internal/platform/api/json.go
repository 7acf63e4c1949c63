package api

import (
	"encoding/json"
	"net/http"
)

// PageMeta describes an offset-paginated listing.
type PageMeta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPageMeta computes TotalPages from total and perPage.
func NewPageMeta(page, perPage, total int) PageMeta {
	pages := 0
	if total > 0 && perPage > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return PageMeta{Page: page, PerPage: perPage, Total: total, TotalPages: pages}
}

// ListResponse is the envelope for paginated collections.
type ListResponse[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
