// Package srcom reads runs, categories, levels and platforms from the
// speedrun.com REST API (v1).
package srcom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"speedrun-backend/logging"
	"speedrun-backend/metrics"
	"speedrun-backend/models"
	"speedrun-backend/reconcile"
	"speedrun-backend/validation"
)

const (
	pageSize         = 200
	maxRetries       = 3
	maxErrorBodySize = 64 * 1024
)

var errNotFound = errors.New("not found")

type Config struct {
	BaseURL           string
	GameID            string
	GameAbbreviation  string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int
}

type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
	retryBase time.Duration

	mu           sync.Mutex
	gameID       string
	abbreviation string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 100
	}

	return &Client{
		http:         &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:    cfg.UserAgent,
		limiter:      rate.NewLimiter(rate.Limit(float64(rpm)/60), max(1, rpm/20)),
		breaker:      newBreaker(),
		retryBase:    time.Second,
		gameID:       strings.TrimSpace(cfg.GameID),
		abbreviation: strings.TrimSpace(cfg.GameAbbreviation),
	}
}

// ResolveGameID returns the configured game id, looking it up by
// abbreviation the first time when only the abbreviation is set.
func (c *Client) ResolveGameID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gameID != "" {
		return c.gameID, nil
	}
	if c.abbreviation == "" {
		return "", &reconcile.Error{Kind: reconcile.ErrConfig, Op: "resolve game id", Err: errors.New("neither game id nor game abbreviation is configured")}
	}

	var env envelope[[]gameDTO]
	q := url.Values{"abbreviation": {c.abbreviation}, "max": {"1"}}
	if err := c.getJSON(ctx, "games", "/games", q, &env); err != nil {
		return "", fmt.Errorf("look up game %q: %w", c.abbreviation, err)
	}
	if len(env.Data) == 0 || env.Data[0].ID == "" {
		return "", &reconcile.Error{Kind: reconcile.ErrConfig, Op: "resolve game id", Err: fmt.Errorf("no game with abbreviation %q", c.abbreviation)}
	}

	c.gameID = env.Data[0].ID
	logging.Info().Str("abbreviation", c.abbreviation).Str("game_id", c.gameID).Msg("Resolved external game id")
	return c.gameID, nil
}

// FetchCandidateRuns pages through verified runs, newest first, until limit
// runs are collected or the listing ends. Runs that fail validation are dropped.
func (c *Client) FetchCandidateRuns(ctx context.Context, gameID string, limit int) ([]models.ExternalRun, error) {
	if limit <= 0 {
		return []models.ExternalRun{}, nil
	}

	runs := make([]models.ExternalRun, 0, limit)
	dropped := 0
	for offset := 0; len(runs) < limit; offset += pageSize {
		q := url.Values{
			"game":      {gameID},
			"status":    {"verified"},
			"orderby":   {"submitted"},
			"direction": {"desc"},
			"embed":     {"players,category,level,platform"},
			"max":       {strconv.Itoa(pageSize)},
			"offset":    {strconv.Itoa(offset)},
		}

		var page runsPage
		if err := c.getJSON(ctx, "runs", "/runs", q, &page); err != nil {
			return nil, fmt.Errorf("fetch runs offset=%d: %w", offset, err)
		}

		for _, dto := range page.Data {
			if len(runs) >= limit {
				break
			}
			run := dto.toExternalRun()
			if err := validation.Struct(run); err != nil {
				dropped++
				logging.Ctx(ctx).Warn().Err(err).Str("external_run_id", run.ID).Msg("Dropping malformed external run")
				continue
			}
			runs = append(runs, run)
		}

		if len(page.Data) < pageSize || !page.Pagination.hasNext() {
			break
		}
	}

	logging.Ctx(ctx).Debug().Str("game_id", gameID).Int("runs", len(runs)).Int("dropped", dropped).Msg("Fetched external runs")
	return runs, nil
}

func (c *Client) FetchCategories(ctx context.Context, gameID string) ([]models.ExternalCategory, error) {
	var env envelope[[]categoryDTO]
	if err := c.getJSON(ctx, "categories", "/games/"+url.PathEscape(gameID)+"/categories", nil, &env); err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}
	out := make([]models.ExternalCategory, 0, len(env.Data))
	for _, cat := range env.Data {
		out = append(out, models.ExternalCategory{ID: cat.ID, Name: cat.Name, Type: cat.Type})
	}
	return out, nil
}

func (c *Client) FetchLevels(ctx context.Context, gameID string) ([]models.ExternalLevel, error) {
	var env envelope[[]levelDTO]
	if err := c.getJSON(ctx, "levels", "/games/"+url.PathEscape(gameID)+"/levels", nil, &env); err != nil {
		return nil, fmt.Errorf("fetch levels: %w", err)
	}
	out := make([]models.ExternalLevel, 0, len(env.Data))
	for _, l := range env.Data {
		out = append(out, models.ExternalLevel{ID: l.ID, Name: l.Name})
	}
	return out, nil
}

// FetchPlatformName returns found=false with a nil error when the service
// does not know the platform.
func (c *Client) FetchPlatformName(ctx context.Context, platformID string) (string, bool, error) {
	var env envelope[platformDTO]
	err := c.getJSON(ctx, "platforms", "/platforms/"+url.PathEscape(platformID), nil, &env)
	if errors.Is(err, errNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fetch platform %s: %w", platformID, err)
	}
	return env.Data.Name, env.Data.Name != "", nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, endpoint, reqURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ExternalRequests.WithLabelValues(endpoint, "rejected").Inc()
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// get performs one rate-limited GET, retrying on HTTP 429.
func (c *Client) get(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ExternalRequests.WithLabelValues(endpoint, "error").Inc()
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		metrics.ExternalRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read %s response: %w", endpoint, err)
			}
			return body, nil

		case resp.StatusCode == http.StatusNotFound:
			_ = resp.Body.Close()
			return nil, errNotFound

		case resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries:
			_ = resp.Body.Close()
			delay := c.retryBase * time.Duration(1<<attempt)
			if s := resp.Header.Get("Retry-After"); s != "" {
				if secs, err := strconv.Atoi(s); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			logging.Ctx(ctx).Warn().Str("endpoint", endpoint).Dur("delay", delay).Msg("Rate limited by external service, backing off")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s request failed with status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
		}
	}
}

var _ reconcile.ExternalClient = (*Client)(nil)
