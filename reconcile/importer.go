package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"speedrun-backend/logging"
	"speedrun-backend/metrics"
	"speedrun-backend/models"
)

// ImportResult is the outcome of one import run.
type ImportResult struct {
	GameID     string `json:"gameId"`
	Candidates int    `json:"candidates"`
	Imported   int    `json:"imported"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
	// UnmatchedPlayers maps a persisted entry id to the player names on it
	// that no account matched.
	UnmatchedPlayers map[string][]string `json:"unmatchedPlayers"`
	Errors           []string            `json:"errors"`
	StartedAt        time.Time           `json:"startedAt"`
	FinishedAt       time.Time           `json:"finishedAt"`
}

func (r *ImportResult) Summary() string {
	return fmt.Sprintf("game %s: %d candidates, %d imported, %d skipped (%d duplicates), %d with unmatched players, %d errors",
		r.GameID, r.Candidates, r.Imported, r.Skipped, r.Duplicates, len(r.UnmatchedPlayers), len(r.Errors))
}

// Progress carries running totals after each record decision.
type Progress struct {
	Processed  int `json:"processed"`
	Total      int `json:"total"`
	Imported   int `json:"imported"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
}

type ProgressFunc func(Progress)

type recordOutcome int

const (
	outcomeImported recordOutcome = iota
	outcomeSkipped
	outcomeDuplicate
)

func (o recordOutcome) String() string {
	switch o {
	case outcomeImported:
		return "imported"
	case outcomeDuplicate:
		return "duplicate"
	default:
		return "skipped"
	}
}

// importAccumulator is shared by the record workers. Every mutation of the
// result and the dedup set happens under mu.
type importAccumulator struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	result    *ImportResult
	processed int
	total     int
	progress  ProgressFunc
}

// reserve claims an external run id for this run. It returns false when the id
// is already linked or another worker reserved it first.
func (a *importAccumulator) reserve(externalID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seen[externalID]; ok {
		return false
	}
	a.seen[externalID] = struct{}{}
	return true
}

func (a *importAccumulator) record(outcome recordOutcome, errMsg string, entryID string, unmatched []string) {
	a.mu.Lock()
	switch outcome {
	case outcomeImported:
		a.result.Imported++
		if len(unmatched) > 0 {
			a.result.UnmatchedPlayers[entryID] = unmatched
		}
	case outcomeDuplicate:
		a.result.Skipped++
		a.result.Duplicates++
	default:
		a.result.Skipped++
	}
	if errMsg != "" {
		a.result.Errors = append(a.result.Errors, errMsg)
	}
	a.processed++
	p := Progress{
		Processed:  a.processed,
		Total:      a.total,
		Imported:   a.result.Imported,
		Skipped:    a.result.Skipped,
		Duplicates: a.result.Duplicates,
	}
	a.mu.Unlock()

	metrics.ImportRecords.WithLabelValues(outcome.String()).Inc()
	a.report(p)
}

// report hands p to the progress callback outside the lock. A panicking
// callback is logged and otherwise ignored.
func (a *importAccumulator) report(p Progress) {
	if a.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Warn().Interface("panic", r).Int("processed", p.Processed).Msg("Progress callback panicked")
		}
	}()
	a.progress(p)
}

// playerCache holds the pre-resolved accounts for one import run, keyed by
// normalized display name. A nil value means nobody matched.
type playerCache map[string]*models.Player

func (c playerCache) matched(name string) bool {
	return c[Normalize(name)] != nil
}

// ImportExternalRuns fetches new runs from the external service, maps them onto
// the internal taxonomy and persists them as unclaimed, unverified entries.
//
// The returned error is non-nil only when the whole run aborted; the result is
// always non-nil and carries the abort message in Errors as well.
func (e *Engine) ImportExternalRuns(ctx context.Context, progress ProgressFunc) (*ImportResult, error) {
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithCorrelationID(ctx, logging.NewCorrelationID())
	}
	log := logging.Ctx(ctx)

	result := &ImportResult{
		UnmatchedPlayers: map[string][]string{},
		Errors:           []string{},
		StartedAt:        e.now(),
	}
	start := time.Now()
	defer func() {
		result.FinishedAt = e.now()
		metrics.ImportDuration.Observe(time.Since(start).Seconds())
	}()

	abort := func(err error) (*ImportResult, error) {
		result.Errors = append(result.Errors, err.Error())
		metrics.ImportRuns.WithLabelValues("aborted").Inc()
		log.Error().Err(err).Msg("Import aborted")
		return result, err
	}

	gameID, err := e.client.ResolveGameID(ctx)
	if err != nil {
		var rerr *Error
		if errors.As(err, &rerr) {
			return abort(err)
		}
		return abort(newError(ErrExternalService, "resolve game id", err))
	}
	if strings.TrimSpace(gameID) == "" {
		return abort(configErrorf("resolve game id", "external game id is empty"))
	}
	result.GameID = gameID

	linked, err := e.store.LinkedExternalRunIDs(ctx)
	if err != nil {
		return abort(fmt.Errorf("load linked external run ids: %w", err))
	}

	fetched, err := e.client.FetchCandidateRuns(ctx, gameID, e.opts.FetchLimit)
	if err != nil {
		return abort(newError(ErrExternalService, "fetch candidate runs", err))
	}

	candidates := filterCandidates(fetched, linked, e.opts.BatchSize)
	result.Candidates = len(candidates)
	log.Info().
		Str("game_id", gameID).
		Int("fetched", len(fetched)).
		Int("already_linked", len(linked)).
		Int("candidates", len(candidates)).
		Msg("Candidate runs selected")

	if len(candidates) == 0 {
		msg := fmt.Sprintf("no new runs to import: %d fetched, all already imported or invalid", len(fetched))
		result.Errors = append(result.Errors, msg)
		metrics.ImportRuns.WithLabelValues("empty").Inc()
		log.Info().Msg(msg)
		return result, nil
	}

	mapping, err := e.mapper.BuildMappings(ctx, candidates, gameID)
	if err != nil {
		var rerr *Error
		if !errors.As(err, &rerr) {
			err = newError(ErrMapping, "build mappings", err)
		}
		return abort(err)
	}

	players := e.resolvePlayers(ctx, candidates)

	seen := make(map[string]struct{}, len(linked)+len(candidates))
	for id := range linked {
		seen[id] = struct{}{}
	}
	acc := &importAccumulator{
		seen:     seen,
		result:   result,
		total:    len(candidates),
		progress: progress,
	}

	if err := e.processCandidates(ctx, candidates, mapping, players, acc); err != nil {
		return abort(err)
	}

	metrics.ImportRuns.WithLabelValues("completed").Inc()
	log.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("duplicates", result.Duplicates).
		Int("unmatched_player_entries", len(result.UnmatchedPlayers)).
		Msg("Import finished")

	summary := e.AutoclaimAll(ctx)
	if len(summary.Errors) > 0 {
		rerr := newError(ErrReconciliation, "autoclaim after import", errors.New(strings.Join(summary.Errors, "; ")))
		log.Warn().Err(rerr).Msg("Autoclaim after import had failures")
	}
	log.Info().
		Int("runs_updated", summary.RunsUpdated).
		Int("players_updated", summary.PlayersUpdated).
		Msg("Autoclaim after import finished")

	return result, nil
}

// filterCandidates drops runs already linked, runs repeated within the batch
// and runs with no id, then caps the list at limit.
func filterCandidates(runs []models.ExternalRun, linked map[string]struct{}, limit int) []models.ExternalRun {
	out := make([]models.ExternalRun, 0, min(len(runs), limit))
	batch := make(map[string]struct{}, len(runs))
	for _, r := range runs {
		if len(out) >= limit {
			break
		}
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		if _, ok := linked[id]; ok {
			continue
		}
		if _, ok := batch[id]; ok {
			continue
		}
		batch[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

// resolvePlayers looks up every distinct player name once, concurrently.
// Lookup failures leave the name unresolved.
func (e *Engine) resolvePlayers(ctx context.Context, runs []models.ExternalRun) playerCache {
	names := map[string]string{}
	for _, r := range runs {
		for _, n := range r.PlayerNames {
			n = strings.TrimSpace(n)
			if n == "" || strings.EqualFold(n, models.UnknownPlayer) {
				continue
			}
			if _, ok := names[Normalize(n)]; !ok {
				names[Normalize(n)] = n
			}
		}
	}

	cache := make(playerCache, len(names))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.LookupConcurrency)

	for key, name := range names {
		g.Go(func() error {
			p, err := e.players.FindByDisplayName(gctx, name)
			if err == nil && p == nil {
				p, err = e.players.FindByExternalUsername(gctx, name)
			}
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("player_name", name).Msg("Player lookup failed")
				p = nil
			}
			mu.Lock()
			cache[key] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return cache
}

func (e *Engine) processCandidates(ctx context.Context, runs []models.ExternalRun, mapping *TaxonomyMapping, players playerCache, acc *importAccumulator) error {
	pool, err := ants.NewPool(e.opts.Workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var workers sync.WaitGroup
	for _, run := range runs {
		workers.Add(1)
		if err := pool.Submit(func() {
			defer workers.Done()
			e.importRecord(ctx, run, mapping, players, acc)
		}); err != nil {
			workers.Done()
			acc.record(outcomeSkipped, fmt.Sprintf("run %s: submit to worker pool: %v", run.ID, err), "", nil)
		}
	}
	workers.Wait()
	return nil
}

// importRecord handles one candidate. Nothing it does can fail the batch:
// errors and panics become a skipped record.
func (e *Engine) importRecord(ctx context.Context, run models.ExternalRun, mapping *TaxonomyMapping, players playerCache, acc *importAccumulator) {
	log := logging.Ctx(ctx).With().Str("external_run_id", run.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			rerr := newError(ErrRecord, "import run "+run.ID, fmt.Errorf("panic: %v", r))
			log.Error().Err(rerr).Msg("Recovered while importing run")
			acc.record(outcomeSkipped, fmt.Sprintf("run %s: %v", run.ID, rerr), "", nil)
		}
	}()

	if !acc.reserve(run.ID) {
		log.Debug().Msg("Run already imported, skipping")
		acc.record(outcomeDuplicate, "", "", nil)
		return
	}

	entry := e.mapRun(run, mapping)

	if t, ok := repairTime(run); ok {
		if t != strings.TrimSpace(run.Time) {
			log.Debug().Str("time", t).Msg("Repaired run time from raw duration")
		}
		entry.Time = t
	} else {
		entry.Time = strings.TrimSpace(run.Time)
		log.Warn().Msg("Run time missing and could not be repaired")
	}

	issues := Validate(entry)
	if HasCritical(issues) {
		rerr := newError(ErrRecord, "validate run "+run.ID, errors.New(issues.Critical().Join()))
		log.Warn().Err(rerr).Msg("Run rejected")
		acc.record(outcomeSkipped, fmt.Sprintf("run %s: %s", run.ID, issues.Critical().Join()), "", nil)
		return
	}
	if w := issues.Warnings(); len(w) > 0 {
		log.Info().Str("warnings", w.Join()).Msg("Run imported with placeholders")
	}

	var unmatched []string
	for _, name := range []string{entry.PlayerName, entry.Player2Name} {
		if name == "" || name == models.UnknownPlayer {
			continue
		}
		if !players.matched(name) {
			unmatched = append(unmatched, name)
		}
	}

	if err := e.store.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateExternalRun) {
			log.Debug().Msg("Run imported concurrently, skipping")
			acc.record(outcomeDuplicate, "", "", nil)
			return
		}
		rerr := newError(ErrRecord, "persist run "+run.ID, err)
		log.Warn().Err(rerr).Msg("Run not persisted")
		acc.record(outcomeSkipped, fmt.Sprintf("run %s: %v", run.ID, err), "", nil)
		return
	}

	if len(unmatched) > 0 {
		log.Info().Strs("players", unmatched).Str("entry_id", entry.ID).Msg("Imported run has unmatched players")
	}
	acc.record(outcomeImported, "", entry.ID, unmatched)
}

// mapRun builds the unclaimed entry for run. Time is filled in by the caller.
func (e *Engine) mapRun(run models.ExternalRun, mapping *TaxonomyMapping) *models.LeaderboardEntry {
	runType := models.RunTypeSolo
	if len(run.PlayerNames) >= 2 {
		runType = models.RunTypeCoop
	}

	player1 := ""
	if len(run.PlayerNames) > 0 {
		player1 = strings.TrimSpace(run.PlayerNames[0])
	}
	if player1 == "" {
		player1 = models.UnknownPlayer
	}
	player2 := ""
	if runType == models.RunTypeCoop {
		player2 = strings.TrimSpace(run.PlayerNames[1])
	}

	lbType := models.LeaderboardTypeFor(run.CategoryType)
	if run.LevelID != "" {
		lbType = models.LeaderboardIndividualLevel
	}

	categoryID, categoryName := mapping.Category(run.CategoryID, run.CategoryName, lbType)
	platformID, platformName := mapping.Platform(run.PlatformID, run.PlatformName)
	var levelID, levelName string
	if run.LevelID != "" || run.LevelName != "" {
		levelID, levelName = mapping.Level(run.LevelID, run.LevelName)
	}

	date := strings.TrimSpace(run.Date)
	if date == "" && len(run.Submitted) >= 10 {
		date = run.Submitted[:10]
	}

	return &models.LeaderboardEntry{
		ID:                   e.ids.NewID(),
		PlayerID:             "",
		PlayerName:           player1,
		Player2Name:          player2,
		CategoryID:           categoryID,
		PlatformID:           platformID,
		LevelID:              levelID,
		RunType:              runType,
		LeaderboardType:      lbType,
		Date:                 date,
		Verified:             false,
		ImportedFromExternal: true,
		ExternalRunID:        run.ID,
		ExternalCategoryName: categoryName,
		ExternalPlatformName: platformName,
		ExternalLevelName:    levelName,
		ImportedAt:           e.now(),
	}
}

// repairTime returns the run's HH:MM:SS time, falling back to the raw
// seconds and then the ISO duration when the formatted value is missing or
// zero. ok is false when no source produced a time.
func repairTime(run models.ExternalRun) (string, bool) {
	t := strings.TrimSpace(run.Time)
	if t != "" && t != "00:00:00" {
		return t, true
	}
	if run.PrimarySeconds != nil && *run.PrimarySeconds > 0 {
		if s, ok := SecondsToTime(*run.PrimarySeconds); ok {
			return s, true
		}
	}
	if run.PrimaryISO != "" {
		if s, ok := ISODurationToTime(run.PrimaryISO); ok && s != "00:00:00" {
			return s, true
		}
	}
	return t, false
}
