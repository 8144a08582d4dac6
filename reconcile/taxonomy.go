package reconcile

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"speedrun-backend/logging"
	"speedrun-backend/metrics"
	"speedrun-backend/models"
)

type entityKind string

const (
	kindCategory entityKind = "category"
	kindPlatform entityKind = "platform"
	kindLevel    entityKind = "level"
)

// matchRule holds the similarity floor and the shortest fuzzy key allowed to
// take part in similarity matching. Short keys like "ds" or "pc" produce
// high scores against unrelated names, so they only match exactly.
type matchRule struct {
	floor     float64
	minKeyLen int
}

var matchRules = map[entityKind]matchRule{
	kindCategory: {floor: 0.80, minKeyLen: 3},
	kindLevel:    {floor: 0.80, minKeyLen: 3},
	kindPlatform: {floor: 0.85, minKeyLen: 4},
}

type internalEntity struct {
	id     string
	norm   string
	fuzzy  string
	lbType models.LeaderboardType
}

type externalEntity struct {
	id     string
	name   string
	lbType models.LeaderboardType
}

// lookupTable maps one entity kind from external identifiers onto internal ids.
type lookupTable struct {
	byExternalID  map[string]string
	byName        map[string]string
	byFuzzy       map[string]string
	externalNames map[string]string
}

func newLookupTable() lookupTable {
	return lookupTable{
		byExternalID:  map[string]string{},
		byName:        map[string]string{},
		byFuzzy:       map[string]string{},
		externalNames: map[string]string{},
	}
}

func typedKey(lbType models.LeaderboardType, key string) string {
	return string(lbType) + "|" + key
}

func (t lookupTable) rememberName(extID, name string) {
	if extID != "" && strings.TrimSpace(name) != "" {
		t.externalNames[extID] = strings.TrimSpace(name)
	}
}

func (t lookupTable) record(ext externalEntity, internalID string) {
	if ext.id != "" {
		t.byExternalID[ext.id] = internalID
	}
	put := func(m map[string]string, key string) {
		if key == "" {
			return
		}
		if _, taken := m[key]; !taken {
			m[key] = internalID
		}
		if ext.lbType != "" {
			tk := typedKey(ext.lbType, key)
			if _, taken := m[tk]; !taken {
				m[tk] = internalID
			}
		}
	}
	put(t.byName, Normalize(ext.name))
	put(t.byFuzzy, FuzzyKey(ext.name))
}

// resolve returns the internal id for an external reference and the external
// name to keep as fallback display. internalID is "" when nothing matched.
func (t lookupTable) resolve(extID, name string, lbType models.LeaderboardType) (internalID, externalName string) {
	externalName = strings.TrimSpace(name)
	if externalName == "" && extID != "" {
		externalName = t.externalNames[extID]
	}

	if extID != "" {
		if id, ok := t.byExternalID[extID]; ok {
			return id, externalName
		}
	}

	lookup := func(m map[string]string, key string) (string, bool) {
		if key == "" {
			return "", false
		}
		if lbType != "" {
			if id, ok := m[typedKey(lbType, key)]; ok {
				return id, true
			}
		}
		id, ok := m[key]
		return id, ok
	}
	if id, ok := lookup(t.byName, Normalize(externalName)); ok {
		return id, externalName
	}
	if id, ok := lookup(t.byFuzzy, FuzzyKey(externalName)); ok {
		return id, externalName
	}
	return "", externalName
}

// TaxonomyMapping is built once per import run from the candidate batch.
type TaxonomyMapping struct {
	categories lookupTable
	platforms  lookupTable
	levels     lookupTable

	Matched   map[string]int
	Unmatched map[string][]string
}

func newTaxonomyMapping() *TaxonomyMapping {
	return &TaxonomyMapping{
		categories: newLookupTable(),
		platforms:  newLookupTable(),
		levels:     newLookupTable(),
		Matched:    map[string]int{},
		Unmatched:  map[string][]string{},
	}
}

func (m *TaxonomyMapping) Category(extID, name string, lbType models.LeaderboardType) (string, string) {
	return m.categories.resolve(extID, name, lbType)
}

func (m *TaxonomyMapping) Platform(extID, name string) (string, string) {
	return m.platforms.resolve(extID, name, "")
}

func (m *TaxonomyMapping) Level(extID, name string) (string, string) {
	return m.levels.resolve(extID, name, "")
}

// Mapper builds TaxonomyMappings from the internal catalogs and the external service.
type Mapper struct {
	store             Store
	client            ExternalClient
	lookupConcurrency int
}

func NewMapper(store Store, client ExternalClient, lookupConcurrency int) *Mapper {
	if lookupConcurrency <= 0 {
		lookupConcurrency = 8
	}
	return &Mapper{store: store, client: client, lookupConcurrency: lookupConcurrency}
}

// BuildMappings matches the categories, levels and platforms referenced by
// runs onto the internal taxonomy.
func (m *Mapper) BuildMappings(ctx context.Context, runs []models.ExternalRun, externalGameID string) (*TaxonomyMapping, error) {
	const op = "build mappings"
	if strings.TrimSpace(externalGameID) == "" {
		return nil, configErrorf(op, "external game id is empty")
	}
	if runs == nil {
		return nil, configErrorf(op, "external runs list is nil")
	}

	internalCategories, err := m.store.ListCategories(ctx)
	if err != nil {
		return nil, newError(ErrMapping, "list internal categories", err)
	}
	internalPlatforms, err := m.store.ListPlatforms(ctx)
	if err != nil {
		return nil, newError(ErrMapping, "list internal platforms", err)
	}
	internalLevels, err := m.store.ListLevels(ctx)
	if err != nil {
		return nil, newError(ErrMapping, "list internal levels", err)
	}

	externalCategories, err := m.client.FetchCategories(ctx, externalGameID)
	if err != nil {
		return nil, newError(ErrExternalService, "fetch external categories", err)
	}
	externalLevels, err := m.client.FetchLevels(ctx, externalGameID)
	if err != nil {
		return nil, newError(ErrExternalService, "fetch external levels", err)
	}

	mapping := newTaxonomyMapping()

	cats := collectCategories(externalCategories, runs)
	for _, c := range cats {
		mapping.categories.rememberName(c.id, c.name)
	}
	mapping.matchKind(ctx, kindCategory, cats, categoryEntities(internalCategories), mapping.categories)

	levels := collectLevels(externalLevels, runs)
	for _, l := range levels {
		mapping.levels.rememberName(l.id, l.name)
	}
	mapping.matchKind(ctx, kindLevel, levels, levelEntities(internalLevels), mapping.levels)

	platforms := m.collectPlatforms(ctx, runs)
	for _, p := range platforms {
		mapping.platforms.rememberName(p.id, p.name)
	}
	mapping.matchKind(ctx, kindPlatform, platforms, platformEntities(internalPlatforms), mapping.platforms)

	logging.Ctx(ctx).Info().
		Int("categories_matched", mapping.Matched[string(kindCategory)]).
		Int("categories_unmatched", len(mapping.Unmatched[string(kindCategory)])).
		Int("levels_matched", mapping.Matched[string(kindLevel)]).
		Int("levels_unmatched", len(mapping.Unmatched[string(kindLevel)])).
		Int("platforms_matched", mapping.Matched[string(kindPlatform)]).
		Int("platforms_unmatched", len(mapping.Unmatched[string(kindPlatform)])).
		Msg("Taxonomy mapping built")

	return mapping, nil
}

func (m *TaxonomyMapping) matchKind(ctx context.Context, kind entityKind, externals []externalEntity, internals []internalEntity, table lookupTable) {
	rule := matchRules[kind]
	useType := kind == kindCategory

	for _, ext := range externals {
		if strings.TrimSpace(ext.name) == "" {
			m.Unmatched[string(kind)] = append(m.Unmatched[string(kind)], ext.id)
			metrics.TaxonomyUnmatched.WithLabelValues(string(kind)).Inc()
			logging.Ctx(ctx).Warn().Str("kind", string(kind)).Str("external_id", ext.id).Msg("External entity has no name, cannot map")
			continue
		}

		internalID, strategy, ok := matchOne(ext, internals, rule, useType)
		if !ok {
			m.Unmatched[string(kind)] = append(m.Unmatched[string(kind)], ext.name)
			metrics.TaxonomyUnmatched.WithLabelValues(string(kind)).Inc()
			logging.Ctx(ctx).Warn().
				Str("kind", string(kind)).
				Str("external_id", ext.id).
				Str("external_name", ext.name).
				Msg("No internal match, external name kept as fallback")
			continue
		}

		table.record(ext, internalID)
		m.Matched[string(kind)]++
		logging.Ctx(ctx).Debug().
			Str("kind", string(kind)).
			Str("external_name", ext.name).
			Str("internal_id", internalID).
			Str("strategy", strategy).
			Msg("Mapped external entity")
	}
}

// matchOne tries exact name (type-agreeing first when useType), then fuzzy
// key, then the best similarity score at or above the kind's floor.
func matchOne(ext externalEntity, internals []internalEntity, rule matchRule, useType bool) (string, string, bool) {
	norm := Normalize(ext.name)
	fuzzy := FuzzyKey(ext.name)

	sameType := func(e internalEntity) bool { return e.lbType == ext.lbType }

	if useType {
		for _, in := range internals {
			if in.norm == norm && sameType(in) {
				return in.id, "exact-typed", true
			}
		}
	}
	for _, in := range internals {
		if in.norm == norm {
			return in.id, "exact", true
		}
	}

	if fuzzy == "" {
		return "", "", false
	}
	if useType {
		for _, in := range internals {
			if in.fuzzy == fuzzy && sameType(in) {
				return in.id, "fuzzy-typed", true
			}
		}
	}
	for _, in := range internals {
		if in.fuzzy == fuzzy {
			return in.id, "fuzzy", true
		}
	}

	if len([]rune(fuzzy)) < rule.minKeyLen {
		return "", "", false
	}
	bestID := ""
	bestScore := -1.0
	bestTyped := false
	for _, in := range internals {
		if len([]rune(in.fuzzy)) < rule.minKeyLen {
			continue
		}
		score := Similarity(fuzzy, in.fuzzy)
		typed := useType && sameType(in)
		if score > bestScore || (score == bestScore && typed && !bestTyped) {
			bestID, bestScore, bestTyped = in.id, score, typed
		}
	}
	if bestID != "" && bestScore >= rule.floor {
		return bestID, "similarity", true
	}
	return "", "", false
}

func categoryEntities(cats []models.Category) []internalEntity {
	out := make([]internalEntity, 0, len(cats))
	for _, c := range cats {
		lbType := c.LeaderboardType
		if lbType == "" {
			lbType = models.LeaderboardRegular
		}
		out = append(out, internalEntity{id: c.ID, norm: Normalize(c.Name), fuzzy: FuzzyKey(c.Name), lbType: lbType})
	}
	return out
}

func platformEntities(platforms []models.Platform) []internalEntity {
	out := make([]internalEntity, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, internalEntity{id: p.ID, norm: Normalize(p.Name), fuzzy: FuzzyKey(p.Name)})
	}
	return out
}

func levelEntities(levels []models.Level) []internalEntity {
	out := make([]internalEntity, 0, len(levels))
	for _, l := range levels {
		out = append(out, internalEntity{id: l.ID, norm: Normalize(l.Name), fuzzy: FuzzyKey(l.Name)})
	}
	return out
}

// collectCategories merges the fetched catalog with category names embedded
// on runs, so a category missing from the catalog response can still map.
func collectCategories(catalog []models.ExternalCategory, runs []models.ExternalRun) []externalEntity {
	byID := map[string]externalEntity{}
	for _, c := range catalog {
		if c.ID == "" {
			continue
		}
		byID[c.ID] = externalEntity{id: c.ID, name: c.Name, lbType: models.LeaderboardTypeFor(c.Type)}
	}
	for _, r := range runs {
		if r.CategoryID == "" {
			continue
		}
		if _, ok := byID[r.CategoryID]; ok || strings.TrimSpace(r.CategoryName) == "" {
			continue
		}
		lbType := models.LeaderboardTypeFor(r.CategoryType)
		if r.LevelID != "" {
			lbType = models.LeaderboardIndividualLevel
		}
		byID[r.CategoryID] = externalEntity{id: r.CategoryID, name: r.CategoryName, lbType: lbType}
	}
	return sortedEntities(byID)
}

func collectLevels(catalog []models.ExternalLevel, runs []models.ExternalRun) []externalEntity {
	byID := map[string]externalEntity{}
	for _, l := range catalog {
		if l.ID == "" {
			continue
		}
		byID[l.ID] = externalEntity{id: l.ID, name: l.Name}
	}
	for _, r := range runs {
		if r.LevelID == "" {
			continue
		}
		if _, ok := byID[r.LevelID]; ok || strings.TrimSpace(r.LevelName) == "" {
			continue
		}
		byID[r.LevelID] = externalEntity{id: r.LevelID, name: r.LevelName}
	}
	return sortedEntities(byID)
}

// collectPlatforms gathers only the platforms referenced by runs. Ids with no
// embedded name are resolved through the external service, once per id.
func (m *Mapper) collectPlatforms(ctx context.Context, runs []models.ExternalRun) []externalEntity {
	byID := map[string]externalEntity{}
	nameOnly := map[string]externalEntity{}
	var unnamed []string

	for _, r := range runs {
		id := strings.TrimSpace(r.PlatformID)
		name := strings.TrimSpace(r.PlatformName)
		switch {
		case id == "" && name == "":
			continue
		case id == "":
			nameOnly[Normalize(name)] = externalEntity{name: name}
		default:
			existing, seen := byID[id]
			if !seen {
				byID[id] = externalEntity{id: id, name: name}
				continue
			}
			if existing.name == "" && name != "" {
				byID[id] = externalEntity{id: id, name: name}
			}
		}
	}
	for id, e := range byID {
		if e.name == "" {
			unnamed = append(unnamed, id)
		}
	}
	sort.Strings(unnamed)

	for id, name := range m.resolvePlatformNames(ctx, unnamed) {
		byID[id] = externalEntity{id: id, name: name}
	}

	out := sortedEntities(byID)
	keys := make([]string, 0, len(nameOnly))
	for k := range nameOnly {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, nameOnly[k])
	}
	return out
}

// resolvePlatformNames looks up names concurrently. The result only holds
// platforms that resolved; failures and unknown ids are logged and left out.
func (m *Mapper) resolvePlatformNames(ctx context.Context, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.lookupConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			name, found, err := m.client.FetchPlatformName(gctx, id)
			switch {
			case err != nil:
				logging.Ctx(ctx).Warn().Err(err).Str("platform_id", id).Msg("Platform name lookup failed, platform skipped")
			case !found || strings.TrimSpace(name) == "":
				logging.Ctx(ctx).Warn().Str("platform_id", id).Msg("Platform not found on external service, platform skipped")
			default:
				mu.Lock()
				names[id] = strings.TrimSpace(name)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return names
}

func sortedEntities(byID map[string]externalEntity) []externalEntity {
	out := make([]externalEntity, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
