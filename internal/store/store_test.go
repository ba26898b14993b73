package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustchain/internal/config"
	dbpkg "trustchain/internal/db"
	"trustchain/internal/ledger"
	"trustchain/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbpkg.Open(config.Config{DBDialect: config.DatabaseSchemeSQLite, DBDsn: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, dbpkg.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock, func() {
		db.Close()
	}
}

func TestStore_MineAndVerifyRoundTrip(t *testing.T) {
	db := setupSQLite(t)
	s := New(db)
	lg := ledger.New(s)
	ctx := context.Background()

	var hashes []string
	for _, meta := range []ledger.Metadata{{"service_id": "s1"}, {"event_id": "e1"}, nil} {
		h, err := lg.Mine(ctx, "u1", "event_won", 100, meta)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	blocks, err := s.AllBlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, ledger.Genesis, blocks[0].PreviousHash)
	for i, b := range blocks {
		assert.Equal(t, hashes[i], b.CurrentHash)
		assert.Len(t, b.ID, 36)
	}

	ok, err := lg.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_LastBlock(t *testing.T) {
	db := setupSQLite(t)
	s := New(db)
	lg := ledger.New(s)
	ctx := context.Background()

	last, err := s.LastBlock(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = lg.Mine(ctx, "u1", "a", 1, nil)
	require.NoError(t, err)
	h, err := lg.Mine(ctx, "u1", "b", 2, nil)
	require.NoError(t, err)

	last, err = s.LastBlock(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, h, last.CurrentHash)
	assert.Equal(t, "b", last.ActionType)
}

func TestStore_TamperedRowFailsVerification(t *testing.T) {
	db := setupSQLite(t)
	s := New(db)
	lg := ledger.New(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := lg.Mine(ctx, "u1", "service_approved", 10, nil)
		require.NoError(t, err)
	}
	blocks, err := s.AllBlocks(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.ReputationBlock{}).Where("id = ?", blocks[0].ID).Update("points", 999).Error)

	v, err := lg.Inspect(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, 0, v.BrokenAt)

	ok, err := ledger.New(s, ledger.WithStrict(false)).Verify(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_InsertBlock_RejectsFork(t *testing.T) {
	db := setupSQLite(t)
	s := New(db)
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &models.ReputationBlock{
		UserID: "u1", ActionType: "a", Points: 1, Metadata: datatypes.JSON("{}"),
		PreviousHash: ledger.Genesis, CurrentHash: "h1", CreatedAt: at,
	}
	require.NoError(t, s.InsertBlock(ctx, first))

	fork := &models.ReputationBlock{
		UserID: "u1", ActionType: "b", Points: 1, Metadata: datatypes.JSON("{}"),
		PreviousHash: ledger.Genesis, CurrentHash: "h2", CreatedAt: at.Add(time.Millisecond),
	}
	err := s.InsertBlock(ctx, fork)
	assert.ErrorIs(t, err, ledger.ErrForkDetected)

	// another user may start from genesis too
	other := &models.ReputationBlock{
		UserID: "u2", ActionType: "a", Points: 1, Metadata: datatypes.JSON("{}"),
		PreviousHash: ledger.Genesis, CurrentHash: "h3", CreatedAt: at,
	}
	assert.NoError(t, s.InsertBlock(ctx, other))
}

func TestStore_ReadModels(t *testing.T) {
	db := setupSQLite(t)
	s := New(db)
	lg := ledger.New(s)
	ctx := context.Background()

	mine := func(user string, points int64) {
		_, err := lg.Mine(ctx, user, "a", points, nil)
		require.NoError(t, err)
	}
	mine("alice", 100)
	mine("alice", 20)
	mine("bob", 500)
	mine("carol", 120)

	history, err := s.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(20), history[0].Points)
	assert.Equal(t, history[1].CurrentHash, history[0].PreviousHash)

	history, err = s.History(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	score, err := s.Score(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(120), score)

	score, err = s.Score(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, score)

	top, err := s.TopScores(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, UserScore{UserID: "bob", Points: 500, Blocks: 1}, top[0])
	// ties break on user id
	assert.Equal(t, UserScore{UserID: "alice", Points: 120, Blocks: 2}, top[1])
	assert.Equal(t, "carol", top[2].UserID)

	top, err = s.TopScores(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	users, err := s.ChainUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)
}

func TestStore_LastBlock_QueryError(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT \* FROM "reputation_ledger" WHERE user_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("u1", 1).
		WillReturnError(errors.New("connection reset"))

	_, err := New(db).LastBlock(context.Background(), "u1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LastBlock_Postgres(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "action_type", "points", "metadata", "previous_hash", "current_hash", "created_at"}).
		AddRow("b1", "u1", "event_won", 100, []byte(`{"event_id": "e1"}`), ledger.Genesis, "abc", at)
	mock.ExpectQuery(`SELECT \* FROM "reputation_ledger" WHERE user_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("u1", 1).
		WillReturnRows(rows)

	b, err := New(db).LastBlock(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "abc", b.CurrentHash)
	assert.Equal(t, int64(100), b.Points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Score_QueryError(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT CAST\(COALESCE\(SUM\(points\), 0\) AS BIGINT\) FROM "reputation_ledger" WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnError(errors.New("too many connections"))

	_, err := New(db).Score(context.Background(), "u1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.False(t, isDuplicateKeyError(nil))
	assert.True(t, isDuplicateKeyError(errors.New(`ERROR: duplicate key value violates unique constraint "ux_ledger_user_prev" (SQLSTATE 23505)`)))
	assert.True(t, isDuplicateKeyError(errors.New("UNIQUE constraint failed: reputation_ledger.user_id, reputation_ledger.previous_hash")))
	assert.False(t, isDuplicateKeyError(errors.New("connection refused")))
}

func TestStore_TopScores_IncludesProfilesWithoutBlocks(t *testing.T) {
	db := setupSQLite(t)
	s := New(db)
	lg := ledger.New(s)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Profile{ID: "dave", FullName: "Dave"}).Error)
	require.NoError(t, db.Create(&models.Profile{ID: "alice", FullName: "Alice"}).Error)
	_, err := lg.Mine(ctx, "alice", "a", 30, nil)
	require.NoError(t, err)
	// chain owner with no profile row
	_, err = lg.Mine(ctx, "erin", "a", -5, nil)
	require.NoError(t, err)

	top, err := s.TopScores(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []UserScore{
		{UserID: "alice", Points: 30, Blocks: 1},
		{UserID: "dave", Points: 0, Blocks: 0},
		{UserID: "erin", Points: -5, Blocks: 1},
	}, top)
}
