package srcom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedrun-backend/reconcile"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60000
	}
	c := NewClient(cfg)
	c.retryBase = time.Millisecond
	return c
}

const embeddedRun = `{
	"id": "run-embedded",
	"category": {"data": {"id": "cat-1", "name": "Any%", "type": "per-game"}},
	"level": {"data": []},
	"platform": {"data": {"id": "plat-1", "name": "Nintendo 64"}},
	"players": {"data": [
		{"rel": "user", "id": "u1", "names": {"international": "Runner One", "japanese": null}},
		{"rel": "guest", "name": "Guest Two"}
	]},
	"date": "2024-03-01",
	"submitted": "2024-03-02T10:11:12Z",
	"times": {"primary": "PT1H2M3S", "primary_t": 3723},
	"system": {"platform": "plat-1", "emulated": false}
}`

const bareRun = `{
	"id": "run-bare",
	"category": "cat-2",
	"level": "lvl-1",
	"players": [{"rel": "user", "id": "u9", "uri": "https://www.speedrun.com/api/v1/users/u9"}],
	"date": null,
	"submitted": "2024-01-05T00:00:00Z",
	"times": {"primary": "PT45.5S", "primary_t": 45.5},
	"system": {"platform": "plat-2"}
}`

const relayRun = `{
	"id": "run-relay",
	"category": "cat-2",
	"players": [{"rel": "guest", "name": "a"}, {"rel": "guest", "name": "b"}, {"rel": "guest", "name": "c"}],
	"times": {"primary_t": 10}
}`

func TestFetchCandidateRunsDecodesBothShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "game-1", r.URL.Query().Get("game"))
		assert.Equal(t, "verified", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`{"data": [` + embeddedRun + `,` + bareRun + `,` + relayRun + `], "pagination": {"offset": 0, "max": 200, "size": 3, "links": []}}`))
	})
	c := newTestClient(t, mux, Config{GameID: "game-1"})

	runs, err := c.FetchCandidateRuns(context.Background(), "game-1", 100)
	require.NoError(t, err)
	require.Len(t, runs, 2, "the three-player relay run is dropped")

	e := runs[0]
	assert.Equal(t, "run-embedded", e.ID)
	assert.Equal(t, []string{"Runner One", "Guest Two"}, e.PlayerNames)
	assert.Equal(t, "cat-1", e.CategoryID)
	assert.Equal(t, "Any%", e.CategoryName)
	assert.Equal(t, "per-game", e.CategoryType)
	assert.Empty(t, e.LevelID)
	assert.Equal(t, "plat-1", e.PlatformID)
	assert.Equal(t, "Nintendo 64", e.PlatformName)
	require.NotNil(t, e.PrimarySeconds)
	assert.Equal(t, 3723.0, *e.PrimarySeconds)
	assert.Equal(t, "PT1H2M3S", e.PrimaryISO)
	assert.Equal(t, "2024-03-01", e.Date)

	b := runs[1]
	assert.Equal(t, []string{"Unknown"}, b.PlayerNames)
	assert.Equal(t, "cat-2", b.CategoryID)
	assert.Equal(t, "lvl-1", b.LevelID)
	assert.Equal(t, "plat-2", b.PlatformID)
	assert.Empty(t, b.PlatformName)
	assert.Empty(t, b.Date)
	assert.Equal(t, "2024-01-05T00:00:00Z", b.Submitted)
}

func TestFetchCandidateRunsPagesUntilLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		w.Write([]byte(`{"data": [`))
		for i := 0; i < pageSize; i++ {
			if i > 0 {
				w.Write([]byte(","))
			}
			w.Write([]byte(`{"id": "r` + strconv.Itoa(offset+i) + `", "players": [{"rel":"guest","name":"g"}], "times": {"primary_t": 60}}`))
		}
		w.Write([]byte(`], "pagination": {"offset": ` + strconv.Itoa(offset) + `, "max": 200, "size": 200, "links": [{"rel": "next", "uri": "x"}]}}`))
	})
	c := newTestClient(t, mux, Config{})

	runs, err := c.FetchCandidateRuns(context.Background(), "game-1", 450)
	require.NoError(t, err)
	assert.Len(t, runs, 450)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "r449", runs[449].ID)
}

func TestFetchPlatformName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/platforms/known", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"id": "known", "name": "PlayStation 2"}}`))
	})
	mux.HandleFunc("/platforms/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status": 404, "message": "The platform could not be found."}`, http.StatusNotFound)
	})
	mux.HandleFunc("/platforms/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream", http.StatusBadGateway)
	})
	c := newTestClient(t, mux, Config{})

	name, found, err := c.FetchPlatformName(context.Background(), "known")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "PlayStation 2", name)

	_, found, err = c.FetchPlatformName(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = c.FetchPlatformName(context.Background(), "broken")
	assert.ErrorContains(t, err, "502")
}

func TestFetchCategoriesAndLevels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/games/g1/categories", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"id": "c1", "name": "Any%", "type": "per-game"}, {"id": "c2", "name": "Any% IL", "type": "per-level"}]}`))
	})
	mux.HandleFunc("/games/g1/levels", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"id": "l1", "name": "Bob-omb Battlefield"}]}`))
	})
	c := newTestClient(t, mux, Config{})

	cats, err := c.FetchCategories(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "per-level", cats[1].Type)

	levels, err := c.FetchLevels(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "Bob-omb Battlefield", levels[0].Name)
}

func TestResolveGameID(t *testing.T) {
	var lookups atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/games", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		if r.URL.Query().Get("abbreviation") == "sm64" {
			w.Write([]byte(`{"data": [{"id": "o1y9wo6q", "abbreviation": "sm64"}]}`))
			return
		}
		w.Write([]byte(`{"data": []}`))
	})

	c := newTestClient(t, mux, Config{GameAbbreviation: "sm64"})
	for i := 0; i < 2; i++ {
		id, err := c.ResolveGameID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "o1y9wo6q", id)
	}
	assert.Equal(t, int32(1), lookups.Load())

	_, err := newTestClient(t, mux, Config{GameAbbreviation: "nope"}).ResolveGameID(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrConfig)

	_, err = newTestClient(t, mux, Config{}).ResolveGameID(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrConfig)

	id, err := newTestClient(t, mux, Config{GameID: "fixed"}).ResolveGameID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)
}

func TestRetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/games/g1/levels", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data": []}`))
	})
	c := newTestClient(t, mux, Config{})

	levels, err := c.FetchLevels(context.Background(), "g1")
	require.NoError(t, err)
	assert.Empty(t, levels)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/games/g1/categories", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})
	c := newTestClient(t, mux, Config{})

	for i := 0; i < 5; i++ {
		_, err := c.FetchCategories(context.Background(), "g1")
		require.Error(t, err)
	}
	_, err := c.FetchCategories(context.Background(), "g1")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(5), calls.Load())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/platforms/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	c := newTestClient(t, mux, Config{})

	for i := 0; i < 8; i++ {
		_, found, err := c.FetchPlatformName(context.Background(), "p"+strconv.Itoa(i))
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}
