package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"speedrun-backend/models"
)

// unclaimedPredicate is the one SQL spelling of an unclaimed entry. Older
// imports wrote NULL, blanks or the literal "imported" into player_id.
const unclaimedPredicate = `imported_from_external AND (player_id IS NULL OR lower(btrim(player_id)) IN ('', 'imported'))`

const entryColumns = `id, COALESCE(player_id, ''), player_name, COALESCE(player2_name, ''),
	COALESCE(category_id, ''), COALESCE(platform_id, ''), COALESCE(level_id, ''),
	run_type, leaderboard_type, run_time, to_char(run_date, 'YYYY-MM-DD'), verified,
	imported_from_external, COALESCE(external_run_id, ''), COALESCE(external_category_name, ''),
	COALESCE(external_platform_name, ''), COALESCE(external_level_name, ''), imported_at`

const pqUniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LinkedExternalRunIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT external_run_id FROM leaderboard_entries
		WHERE imported_from_external AND external_run_id IS NOT NULL AND external_run_id <> ''
	`)
	if err != nil {
		return nil, fmt.Errorf("query linked external run ids: %w", err)
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan external run id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, leaderboard_type FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.LeaderboardType); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListPlatforms(ctx context.Context) ([]models.Platform, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM platforms ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("query platforms: %w", err)
	}
	defer rows.Close()

	var out []models.Platform
	for rows.Next() {
		var p models.Platform
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListLevels(ctx context.Context) ([]models.Level, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM levels ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()

	var out []models.Level
	for rows.Next() {
		var l models.Level
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateEntry inserts one entry. The unique index on external_run_id turns a
// concurrent import of the same run into ErrDuplicateExternalRun.
func (r *PostgresRepository) CreateEntry(ctx context.Context, e *models.LeaderboardEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leaderboard_entries (
			id, player_id, player_name, player2_name, category_id, platform_id, level_id,
			run_type, leaderboard_type, run_time, run_date, verified, imported_from_external,
			external_run_id, external_category_name, external_platform_name, external_level_name, imported_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
			$8, $9, $10, $11, $12, $13,
			NULLIF($14, ''), NULLIF($15, ''), NULLIF($16, ''), NULLIF($17, ''), $18
		)
	`, e.ID, models.UnclaimedPlayerID(e.PlayerID), e.PlayerName, e.Player2Name, e.CategoryID, e.PlatformID, e.LevelID,
		string(e.RunType), string(e.LeaderboardType), e.Time, e.Date, e.Verified, e.ImportedFromExternal,
		e.ExternalRunID, e.ExternalCategoryName, e.ExternalPlatformName, e.ExternalLevelName, e.ImportedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateExternalRun, e.ExternalRunID)
		}
		return fmt.Errorf("insert leaderboard entry external_run_id=%s: %w", e.ExternalRunID, err)
	}
	return nil
}

func (r *PostgresRepository) FindUnclaimedByPlayerName(ctx context.Context, normalizedName string) ([]models.LeaderboardEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM leaderboard_entries
		WHERE `+unclaimedPredicate+` AND lower(btrim(player_name)) = $1
	`, normalizedName)
	if err != nil {
		return nil, fmt.Errorf("query unclaimed entries for %q: %w", normalizedName, err)
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(
			&e.ID, &e.PlayerID, &e.PlayerName, &e.Player2Name,
			&e.CategoryID, &e.PlatformID, &e.LevelID,
			&e.RunType, &e.LeaderboardType, &e.Time, &e.Date, &e.Verified,
			&e.ImportedFromExternal, &e.ExternalRunID, &e.ExternalCategoryName,
			&e.ExternalPlatformName, &e.ExternalLevelName, &e.ImportedAt,
		); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimEntries assigns playerID in one transaction. The unclaimed predicate is
// repeated in the UPDATE so an entry claimed in the meantime is left alone.
func (r *PostgresRepository) ClaimEntries(ctx context.Context, playerID string, entryIDs []string) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE leaderboard_entries SET player_id = $1
		WHERE id = ANY($2) AND `+unclaimedPredicate, playerID, pq.Array(entryIDs))
	if err != nil {
		return 0, fmt.Errorf("claim entries for player %s: %w", playerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("claim entries rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit claim transaction: %w", err)
	}
	return int(n), nil
}

func (r *PostgresRepository) ListImportedIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM leaderboard_entries WHERE imported_from_external ORDER BY id`)
}

func (r *PostgresRepository) ListUnclaimedIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM leaderboard_entries WHERE `+unclaimedPredicate+` ORDER BY id`)
}

func (r *PostgresRepository) listIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query entry ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEntries removes entryIDs in a single transaction. Callers chunk.
func (r *PostgresRepository) DeleteEntries(ctx context.Context, entryIDs []string) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM leaderboard_entries WHERE id = ANY($1)`, pq.Array(entryIDs))
	if err != nil {
		return 0, fmt.Errorf("delete %d entries: %w", len(entryIDs), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete entries rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete transaction: %w", err)
	}
	return int(n), nil
}

func (r *PostgresRepository) FindByDisplayName(ctx context.Context, name string) (*models.Player, error) {
	return r.findPlayer(ctx, `lower(btrim(display_name)) = lower(btrim($1))`, name)
}

func (r *PostgresRepository) FindByExternalUsername(ctx context.Context, name string) (*models.Player, error) {
	return r.findPlayer(ctx, `lower(btrim(external_username)) = lower(btrim($1))`, name)
}

func (r *PostgresRepository) findPlayer(ctx context.Context, where, arg string) (*models.Player, error) {
	var p models.Player
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, COALESCE(external_username, '')
		FROM players WHERE `+where+`
		ORDER BY created_at LIMIT 1
	`, arg).Scan(&p.ID, &p.DisplayName, &p.ExternalUsername)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query player %q: %w", arg, err)
	}
	return &p, nil
}

func (r *PostgresRepository) ListWithExternalUsername(ctx context.Context) ([]models.Player, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, external_username
		FROM players
		WHERE external_username IS NOT NULL AND btrim(external_username) <> ''
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query players with external username: %w", err)
	}
	defer rows.Close()

	var out []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.ExternalUsername); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ Store           = (*PostgresRepository)(nil)
	_ PlayerDirectory = (*PostgresRepository)(nil)
)
