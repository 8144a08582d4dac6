package reconcile

import (
	"context"

	"github.com/google/uuid"

	"speedrun-backend/models"
)

// ExternalClient is the read side of the external leaderboard service.
type ExternalClient interface {
	ResolveGameID(ctx context.Context) (string, error)
	FetchCandidateRuns(ctx context.Context, gameID string, limit int) ([]models.ExternalRun, error)
	FetchCategories(ctx context.Context, gameID string) ([]models.ExternalCategory, error)
	FetchLevels(ctx context.Context, gameID string) ([]models.ExternalLevel, error)
	// FetchPlatformName returns found=false when the service has no such platform.
	FetchPlatformName(ctx context.Context, platformID string) (name string, found bool, err error)
}

// Store is the persistence surface the engine needs. Batch methods commit
// their whole argument in one transaction; callers are responsible for
// keeping batches within the store's per-commit limits.
type Store interface {
	// LinkedExternalRunIDs returns only the external ids already imported.
	LinkedExternalRunIDs(ctx context.Context) (map[string]struct{}, error)

	ListCategories(ctx context.Context) ([]models.Category, error)
	ListPlatforms(ctx context.Context) ([]models.Platform, error)
	ListLevels(ctx context.Context) ([]models.Level, error)

	CreateEntry(ctx context.Context, entry *models.LeaderboardEntry) error

	// FindUnclaimedByPlayerName matches normalizedName against the
	// normalized player name of imported entries with no linked account.
	FindUnclaimedByPlayerName(ctx context.Context, normalizedName string) ([]models.LeaderboardEntry, error)
	// ClaimEntries sets player_id on the given entries that are still unclaimed
	// and returns how many were updated.
	ClaimEntries(ctx context.Context, playerID string, entryIDs []string) (int, error)

	ListImportedIDs(ctx context.Context) ([]string, error)
	ListUnclaimedIDs(ctx context.Context) ([]string, error)
	DeleteEntries(ctx context.Context, entryIDs []string) (int, error)
}

// PlayerDirectory resolves internal player accounts.
type PlayerDirectory interface {
	// FindByDisplayName returns nil, nil when nobody has that name.
	FindByDisplayName(ctx context.Context, name string) (*models.Player, error)
	FindByExternalUsername(ctx context.Context, name string) (*models.Player, error)
	ListWithExternalUsername(ctx context.Context) ([]models.Player, error)
}

type IDSource interface {
	NewID() string
}

type UUIDSource struct{}

func (UUIDSource) NewID() string { return uuid.NewString() }
