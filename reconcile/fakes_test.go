package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"speedrun-backend/models"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*models.LeaderboardEntry

	categories []models.Category
	platforms  []models.Platform
	levels     []models.Level

	catalogErr error
	linkedErr  error
	// createErr and createPanic are keyed by external run id.
	createErr   map[string]error
	createPanic map[string]bool
	claimErr    map[string]error
	// deleteErrCall fails the n-th DeleteEntries call (1-based); 0 disables.
	deleteErrCall int
	deleteCalls   [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:     map[string]*models.LeaderboardEntry{},
		createErr:   map[string]error{},
		createPanic: map[string]bool{},
		claimErr:    map[string]error{},
	}
}

func (s *fakeStore) put(e models.LeaderboardEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = &e
}

func (s *fakeStore) byExternalID(id string) *models.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ExternalRunID == id {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (s *fakeStore) get(id string) *models.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *fakeStore) LinkedExternalRunIDs(ctx context.Context) (map[string]struct{}, error) {
	if s.linkedErr != nil {
		return nil, s.linkedErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]struct{}{}
	for _, e := range s.entries {
		if e.ImportedFromExternal && e.ExternalRunID != "" {
			out[e.ExternalRunID] = struct{}{}
		}
	}
	return out, nil
}

func (s *fakeStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.categories, s.catalogErr
}

func (s *fakeStore) ListPlatforms(ctx context.Context) ([]models.Platform, error) {
	return s.platforms, s.catalogErr
}

func (s *fakeStore) ListLevels(ctx context.Context) ([]models.Level, error) {
	return s.levels, s.catalogErr
}

func (s *fakeStore) CreateEntry(ctx context.Context, entry *models.LeaderboardEntry) error {
	if s.createPanic[entry.ExternalRunID] {
		panic("store exploded")
	}
	if err := s.createErr[entry.ExternalRunID]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ExternalRunID != "" && e.ExternalRunID == entry.ExternalRunID {
			return ErrDuplicateExternalRun
		}
	}
	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

func (s *fakeStore) FindUnclaimedByPlayerName(ctx context.Context, normalizedName string) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LeaderboardEntry
	for _, e := range s.entries {
		if e.Unclaimed() && Normalize(e.PlayerName) == normalizedName {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeStore) ClaimEntries(ctx context.Context, playerID string, entryIDs []string) (int, error) {
	if err := s.claimErr[playerID]; err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range entryIDs {
		if e, ok := s.entries[id]; ok && e.Unclaimed() {
			e.PlayerID = playerID
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListImportedIDs(ctx context.Context) ([]string, error) {
	return s.ids(func(e *models.LeaderboardEntry) bool { return e.ImportedFromExternal }), nil
}

func (s *fakeStore) ListUnclaimedIDs(ctx context.Context) ([]string, error) {
	return s.ids(func(e *models.LeaderboardEntry) bool { return e.Unclaimed() }), nil
}

func (s *fakeStore) ids(keep func(*models.LeaderboardEntry) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, e := range s.entries {
		if keep(e) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) DeleteEntries(ctx context.Context, entryIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls = append(s.deleteCalls, append([]string(nil), entryIDs...))
	if s.deleteErrCall == len(s.deleteCalls) {
		return 0, errors.New("commit failed")
	}
	n := 0
	for _, id := range entryIDs {
		if _, ok := s.entries[id]; ok {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

type fakePlayers struct {
	players []models.Player
	findErr map[string]error
	listErr error
}

func (p *fakePlayers) FindByDisplayName(ctx context.Context, name string) (*models.Player, error) {
	if err := p.findErr[name]; err != nil {
		return nil, err
	}
	for i := range p.players {
		if strings.EqualFold(p.players[i].DisplayName, name) {
			return &p.players[i], nil
		}
	}
	return nil, nil
}

func (p *fakePlayers) FindByExternalUsername(ctx context.Context, name string) (*models.Player, error) {
	for i := range p.players {
		if p.players[i].ExternalUsername != "" && strings.EqualFold(p.players[i].ExternalUsername, name) {
			return &p.players[i], nil
		}
	}
	return nil, nil
}

func (p *fakePlayers) ListWithExternalUsername(ctx context.Context) ([]models.Player, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	var out []models.Player
	for _, pl := range p.players {
		if pl.ExternalUsername != "" {
			out = append(out, pl)
		}
	}
	return out, nil
}

type fakeClient struct {
	gameID     string
	gameErr    error
	runs       []models.ExternalRun
	runsErr    error
	categories []models.ExternalCategory
	levels     []models.ExternalLevel
	catErr     error

	platformNames map[string]string
	platformErr   map[string]error
	platformCalls atomic.Int32
	mu            sync.Mutex
	platformSeen  map[string]int
}

func (c *fakeClient) ResolveGameID(ctx context.Context) (string, error) {
	return c.gameID, c.gameErr
}

func (c *fakeClient) FetchCandidateRuns(ctx context.Context, gameID string, limit int) ([]models.ExternalRun, error) {
	if c.runsErr != nil {
		return nil, c.runsErr
	}
	if len(c.runs) > limit {
		return c.runs[:limit], nil
	}
	return c.runs, nil
}

func (c *fakeClient) FetchCategories(ctx context.Context, gameID string) ([]models.ExternalCategory, error) {
	return c.categories, c.catErr
}

func (c *fakeClient) FetchLevels(ctx context.Context, gameID string) ([]models.ExternalLevel, error) {
	return c.levels, nil
}

func (c *fakeClient) FetchPlatformName(ctx context.Context, platformID string) (string, bool, error) {
	c.platformCalls.Add(1)
	c.mu.Lock()
	if c.platformSeen == nil {
		c.platformSeen = map[string]int{}
	}
	c.platformSeen[platformID]++
	c.mu.Unlock()

	if err := c.platformErr[platformID]; err != nil {
		return "", false, err
	}
	name, ok := c.platformNames[platformID]
	return name, ok, nil
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string {
	return fmt.Sprintf("entry-%d", s.n.Add(1))
}
