package reconcile

import (
	"context"
	"fmt"
	"strings"

	"speedrun-backend/logging"
	"speedrun-backend/metrics"
	"speedrun-backend/models"
)

type AutoclaimSummary struct {
	RunsUpdated    int      `json:"runsUpdated"`
	PlayersUpdated int      `json:"playersUpdated"`
	Errors         []string `json:"errors"`
}

// Autoclaim links every unclaimed imported entry whose player name matches
// externalUsername to playerID, in one batch write. Entries that already
// belong to an account are never reassigned.
func (e *Engine) Autoclaim(ctx context.Context, playerID, externalUsername string) (int, error) {
	const op = "autoclaim"
	if models.IsUnclaimed(playerID) {
		return 0, configErrorf(op, "player id %q is not a player account", playerID)
	}
	if strings.TrimSpace(externalUsername) == "" {
		return 0, configErrorf(op, "external username is empty")
	}

	name := Normalize(externalUsername)
	entries, err := e.store.FindUnclaimedByPlayerName(ctx, name)
	if err != nil {
		return 0, newError(ErrReconciliation, op, fmt.Errorf("find unclaimed runs for %q: %w", name, err))
	}

	ids := make([]string, 0, len(entries))
	for i := range entries {
		if entries[i].Unclaimed() && Normalize(entries[i].PlayerName) == name {
			ids = append(ids, entries[i].ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	claimed, err := e.store.ClaimEntries(ctx, strings.TrimSpace(playerID), ids)
	if err != nil {
		return 0, newError(ErrReconciliation, op, fmt.Errorf("claim %d runs for player %s: %w", len(ids), playerID, err))
	}
	metrics.AutoclaimedRuns.Add(float64(claimed))

	logging.Ctx(ctx).Info().
		Str("player_id", playerID).
		Str("external_username", externalUsername).
		Int("claimed", claimed).
		Msg("Autoclaimed imported runs")
	return claimed, nil
}

// AutoclaimAll runs Autoclaim for every player with a declared external
// username. One player's failure is recorded and the rest still run.
func (e *Engine) AutoclaimAll(ctx context.Context) AutoclaimSummary {
	summary := AutoclaimSummary{Errors: []string{}}

	players, err := e.players.ListWithExternalUsername(ctx)
	if err != nil {
		rerr := newError(ErrReconciliation, "autoclaim all", fmt.Errorf("list players: %w", err))
		logging.Ctx(ctx).Error().Err(rerr).Msg("Autoclaim aborted")
		summary.Errors = append(summary.Errors, rerr.Error())
		return summary
	}

	for _, p := range players {
		if strings.TrimSpace(p.ExternalUsername) == "" {
			continue
		}
		n, err := e.Autoclaim(ctx, p.ID, p.ExternalUsername)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("player_id", p.ID).Msg("Autoclaim failed for player")
			summary.Errors = append(summary.Errors, fmt.Sprintf("player %s (%s): %v", p.ID, p.ExternalUsername, err))
			continue
		}
		if n > 0 {
			summary.RunsUpdated += n
			summary.PlayersUpdated++
		}
	}
	return summary
}
