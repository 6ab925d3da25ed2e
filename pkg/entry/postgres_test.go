package entry

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

func pgEntryRow(owner string, idx, amount uint64, initiated, exited bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"owner", "idx", "asset", "amount", "lock_until_epoch",
		"release_condition_id", "initiated", "exited", "withdrawal_amount", "created_at",
	}).AddRow(owner, idx, "FLUX", amount, 5, "", initiated, exited, 0, time.Now())
}

func TestPostgresCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM entries WHERE owner = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO entries`)).
		WithArgs("alice", uint64(2), "FLUX", uint64(1000), uint64(5), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO asset_totals`)).
		WithArgs("FLUX", uint64(1000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e := &contracts.Entry{Owner: "alice", Asset: "FLUX", Amount: 1000, LockUntilEpoch: 5, CreatedAt: time.Now()}
	idx, err := store.Create(ctx, e, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), idx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateValidatesBeforeTouchingDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	e := &contracts.Entry{Owner: "alice", Asset: "FLUX", Amount: 0, LockUntilEpoch: 5}
	_, err = store.Create(context.Background(), e, 0)
	require.ErrorIs(t, err, contracts.ErrInvalidInput)
	assert.NoError(t, mock.ExpectationsWereMet(), "no SQL issued for invalid input")
}

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(`SELECT .+ FROM entries`).
		WithArgs("alice", uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{
			"owner", "idx", "asset", "amount", "lock_until_epoch",
			"release_condition_id", "initiated", "exited", "withdrawal_amount", "created_at",
		}))

	_, err = store.Get(context.Background(), "alice", 3)
	require.ErrorIs(t, err, contracts.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkExitedUpdatesTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM entries .+ FOR UPDATE`).
		WithArgs("alice", uint64(0)).
		WillReturnRows(pgEntryRow("alice", 0, 1000, false, false))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE entries SET exited = TRUE, amount = 0, withdrawal_amount = $1`)).
		WithArgs(uint64(950), "alice", uint64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE asset_totals SET deposited = deposited - $1, retained = retained + $2`)).
		WithArgs(uint64(1000), uint64(50), "FLUX").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.MarkExited(ctx, "alice", 0, 950))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkExitedRejectsExited(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM entries .+ FOR UPDATE`).
		WithArgs("alice", uint64(0)).
		WillReturnRows(pgEntryRow("alice", 0, 0, false, true))
	mock.ExpectRollback()

	err = store.MarkExited(context.Background(), "alice", 0, 0)
	require.ErrorIs(t, err, contracts.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet())
}
