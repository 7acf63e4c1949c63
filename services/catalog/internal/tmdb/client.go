// Package tmdb is a client for the parts of the TMDB v3 API the catalog mirrors.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/services/catalog/internal/metrics"
	"github.com/example/movie-catalog/services/catalog/internal/ratelimit"
)

var (
	// ErrRateLimited means TMDB kept answering 429 after every retry.
	ErrRateLimited     = errors.New("tmdb: rate limited")
	ErrNotFound        = errors.New("tmdb: not found")
	ErrUnknownEndpoint = errors.New("tmdb: unknown endpoint")
)

// StatusError is a non-200 answer other than 404 and 429.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb: status %d body=%q", e.Code, e.Body)
}

type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string { return "tmdb: status 429" }

// ChangeFilter narrows the ids returned by /movie/changes before their
// details are fetched.
type ChangeFilter func(ctx context.Context, ids []int64) ([]int64, error)

// ClientConfig holds request and retry settings.
type ClientConfig struct {
	AccessToken    string
	Language       string
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Config     ClientConfig
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
	Limiter    *ratelimit.Limiter

	changeFilter ChangeFilter
	now          func() time.Time
}

// Option configures the Client.
type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.Limiter = l }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithChangeFilter sets the filter applied to changed ids. Without one every
// changed id is fetched.
func WithChangeFilter(f ChangeFilter) Option {
	return func(c *Client) { c.changeFilter = f }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

type ctxKeyChangesUntil struct{}

// WithChangesUntil pins the end of the /movie/changes window for every page
// fetched with the returned context. One sync run reads one listing.
func WithChangesUntil(ctx context.Context, until time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyChangesUntil{}, until.UTC())
}

func ChangesUntilFromContext(ctx context.Context) (time.Time, bool) {
	v, ok := ctx.Value(ctxKeyChangesUntil{}).(time.Time)
	return v, ok && !v.IsZero()
}

func New(baseURL string, cfg ClientConfig, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "https://api.themoviedb.org/3"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Config:     cfg,
		Log:        zap.NewNop(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsBreakerSuccess reports which outcomes must not trip the breaker: a
// missing movie is a valid answer, not an upstream fault.
func IsBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
}

// FetchPage returns one page of endpoint. Pages are 1-based.
func (c *Client) FetchPage(ctx context.Context, endpoint string, page int) (Page, error) {
	ep, ok := LookupEndpoint(endpoint)
	if !ok {
		return Page{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpoint)
	}
	if page < 1 {
		page = 1
	}
	if ep.idsOnly {
		return c.fetchChangesPage(ctx, ep, page)
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	resp, err := doWithBreaker[listResponse](ctx, c, ep.Name, ep.Path, q)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s page %d: %w", ep.Name, page, err)
	}

	out := Page{Endpoint: ep.Name, Number: page, TotalPages: resp.TotalPages}
	out.Records = make([]Record, 0, len(resp.Results))
	for _, m := range resp.Results {
		if m.Adult {
			continue
		}
		out.Records = append(out.Records, toRecord(m))
	}
	out.HasMore = len(resp.Results) > 0 && page < resp.TotalPages && page < ep.PageCap
	return out, nil
}

// fetchChangesPage lists one page of changed ids and resolves each kept id
// through /movie/{id}. Ids that 404 or turn out to be adult are dropped.
func (c *Client) fetchChangesPage(ctx context.Context, ep Endpoint, page int) (Page, error) {
	now, ok := ChangesUntilFromContext(ctx)
	if !ok {
		now = c.now().UTC()
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("start_date", now.Add(-ChangesWindow).Format("2006-01-02"))
	q.Set("end_date", now.Format("2006-01-02"))

	resp, err := doWithBreaker[changesResponse](ctx, c, ep.Name, ep.Path, q)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s page %d: %w", ep.Name, page, err)
	}

	ids := make([]int64, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.ID <= 0 || (r.Adult != nil && *r.Adult) {
			continue
		}
		ids = append(ids, r.ID)
	}
	if c.changeFilter != nil && len(ids) > 0 {
		ids, err = c.changeFilter(ctx, ids)
		if err != nil {
			return Page{}, fmt.Errorf("filter changed ids: %w", err)
		}
	}

	out := Page{Endpoint: ep.Name, Number: page, TotalPages: resp.TotalPages}
	out.Records = make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := c.Movie(ctx, id)
		if errors.Is(err, ErrNotFound) {
			c.Log.Debug("changed movie gone upstream", zap.Int64("external_id", id))
			continue
		}
		if err != nil {
			return Page{}, err
		}
		changed := now
		rec.ChangedAt = &changed
		out.Records = append(out.Records, rec)
	}
	out.HasMore = len(resp.Results) > 0 && page < resp.TotalPages && page < ep.PageCap
	return out, nil
}

// Movie fetches /movie/{id}. Adult titles are reported as ErrNotFound.
func (c *Client) Movie(ctx context.Context, externalID int64) (Record, error) {
	resp, err := doWithBreaker[movieResult](ctx, c, "movie", "/movie/"+strconv.FormatInt(externalID, 10), nil)
	if err != nil {
		return Record{}, fmt.Errorf("fetch movie %d: %w", externalID, err)
	}
	if resp.Adult {
		return Record{}, fmt.Errorf("fetch movie %d: %w", externalID, ErrNotFound)
	}
	return toRecord(*resp), nil
}

// Genres returns TMDB genre ids mapped to names.
func (c *Client) Genres(ctx context.Context) (map[int]string, error) {
	resp, err := doWithBreaker[genreListResponse](ctx, c, "genres", "/genre/movie/list", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch genres: %w", err)
	}
	out := make(map[int]string, len(resp.Genres))
	for _, g := range resp.Genres {
		if name := strings.TrimSpace(g.Name); name != "" {
			out[g.ID] = name
		}
	}
	return out, nil
}

// Videos returns the playable trailers and teasers of a movie.
func (c *Client) Videos(ctx context.Context, externalID int64) ([]Video, error) {
	resp, err := doWithBreaker[videosResponse](ctx, c, "videos", "/movie/"+strconv.FormatInt(externalID, 10)+"/videos", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch videos %d: %w", externalID, err)
	}
	return filterVideos(resp.Results), nil
}

func doWithBreaker[T any](ctx context.Context, c *Client, name, path string, q url.Values) (*T, error) {
	if c.CB == nil {
		return doJSONWithRetry[T](ctx, c, name, path, q)
	}
	result, err := c.CB.Execute(func() (interface{}, error) {
		return doJSONWithRetry[T](ctx, c, name, path, q)
	})
	if err != nil {
		return nil, err
	}
	return result.(*T), nil
}

// doJSONWithRetry retries 429 answers only. Every other failure is returned
// on the first attempt.
func doJSONWithRetry[T any](ctx context.Context, c *Client, name, path string, q url.Values) (*T, error) {
	for attempt := 0; ; attempt++ {
		out, err := doJSON[T](ctx, c, name, path, q)
		var rl *rateLimitedError
		if !errors.As(err, &rl) {
			return out, err
		}
		if attempt >= c.Config.MaxRetries {
			c.Log.Warn("tmdb rate limit retries exhausted", zap.String("endpoint", name), zap.Int("attempts", attempt+1))
			return nil, ErrRateLimited
		}
		delay := c.Config.RetryBaseDelay * time.Duration(math.Pow(2, float64(attempt)))
		if rl.retryAfter > 0 {
			delay = rl.retryAfter
		}
		c.Log.Debug("tmdb rate limited, backing off", zap.String("endpoint", name), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func doJSON[T any](ctx context.Context, c *Client, name, path string, q url.Values) (*T, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("language", c.Config.Language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Config.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.TMDBRequestsTotal.WithLabelValues(name, "0").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	metrics.TMDBRequestsTotal.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		return nil, &rateLimitedError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(b[:min(len(b), 200)])}
	}

	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("tmdb: decode %s: %w", name, err)
	}
	return &out, nil
}

// parseRetryAfter understands the delay-seconds form, capped at one minute.
func parseRetryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return min(time.Duration(n)*time.Second, time.Minute)
}
