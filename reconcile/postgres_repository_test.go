package reconcile

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedrun-backend/models"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestPostgresLinkedExternalRunIDs(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT external_run_id FROM leaderboard_entries")).
		WillReturnRows(sqlmock.NewRows([]string{"external_run_id"}).AddRow("a").AddRow("b"))

	ids, err := repo.LinkedExternalRunIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateEntry(t *testing.T) {
	repo, mock := newMockRepo(t)
	entry := &models.LeaderboardEntry{
		ID:                   "e1",
		PlayerName:           "runner",
		RunType:              models.RunTypeSolo,
		LeaderboardType:      models.LeaderboardRegular,
		Time:                 "00:10:00",
		Date:                 "2024-05-01",
		ImportedFromExternal: true,
		ExternalRunID:        "ext-1",
		ImportedAt:           time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leaderboard_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CreateEntry(context.Background(), entry))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leaderboard_entries")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	err := repo.CreateEntry(context.Background(), entry)
	assert.ErrorIs(t, err, ErrDuplicateExternalRun)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leaderboard_entries")).
		WillReturnError(errors.New("connection reset"))
	err = repo.CreateEntry(context.Background(), entry)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateExternalRun)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindUnclaimedByPlayerName(t *testing.T) {
	repo, mock := newMockRepo(t)
	importedAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "player_id", "player_name", "player2_name", "category_id", "platform_id", "level_id",
		"run_type", "leaderboard_type", "run_time", "run_date", "verified", "imported_from_external",
		"external_run_id", "external_category_name", "external_platform_name", "external_level_name", "imported_at",
	}).AddRow("e1", "imported", "Foo", "", "cat", "", "", "solo", "regular", "00:10:00", "2024-05-01", false, true,
		"ext-1", "Any%", "Atari 2600", "", importedAt)

	mock.ExpectQuery(regexp.QuoteMeta("lower(btrim(player_name)) = $1")).
		WithArgs("foo").
		WillReturnRows(rows)

	entries, err := repo.FindUnclaimedByPlayerName(context.Background(), "foo")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Unclaimed())
	assert.Equal(t, models.RunTypeSolo, entries[0].RunType)
	assert.Equal(t, "Atari 2600", entries[0].ExternalPlatformName)
	assert.Equal(t, importedAt, entries[0].ImportedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimEntries(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE leaderboard_entries SET player_id = $1")).
		WithArgs("p-1", pq.Array([]string{"e1", "e2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := repo.ClaimEntries(context.Background(), "p-1", []string{"e1", "e2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.ClaimEntries(context.Background(), "p-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteEntriesRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM leaderboard_entries WHERE id = ANY($1)")).
		WithArgs(pq.Array([]string{"e1"})).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := repo.DeleteEntries(context.Background(), []string{"e1"})
	require.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM leaderboard_entries WHERE id = ANY($1)")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	n, err := repo.DeleteEntries(context.Background(), []string{"e1", "e2", "e3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListUnclaimedIDsUsesPredicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(unclaimedPredicate)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("e1").AddRow("e2"))

	ids, err := repo.ListUnclaimedIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindPlayer(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM players WHERE lower(btrim(display_name))")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "external_username"}))

	p, err := repo.FindByDisplayName(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)

	mock.ExpectQuery(regexp.QuoteMeta("FROM players WHERE lower(btrim(external_username))")).
		WithArgs("speedy").
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "external_username"}).AddRow("p-1", "Speedy", "speedy"))

	p, err = repo.FindByExternalUsername(context.Background(), "speedy")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "p-1", p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
