package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// SQLiteStore is the single-node durable Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened sqlite database and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate entry store: %w", err)
	}
	return s, nil
}

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return NewSQLiteStore(db)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS entries (
		owner TEXT NOT NULL,
		idx INTEGER NOT NULL,
		asset TEXT NOT NULL,
		amount INTEGER NOT NULL,
		lock_until_epoch INTEGER NOT NULL DEFAULT 0,
		release_condition_id TEXT NOT NULL DEFAULT '',
		initiated INTEGER NOT NULL DEFAULT 0,
		exited INTEGER NOT NULL DEFAULT 0,
		withdrawal_amount INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (owner, idx)
	);
	CREATE TABLE IF NOT EXISTS asset_totals (
		asset TEXT PRIMARY KEY,
		deposited INTEGER NOT NULL DEFAULT 0,
		retained INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS vault_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		current_epoch INTEGER NOT NULL DEFAULT 0,
		epoch_started_at TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT 'ACTIVE'
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, e *contracts.Entry, currentEpoch uint64) (uint64, error) {
	if err := Validate(e, currentEpoch); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var index uint64
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE owner = ?`, string(e.Owner))
	if err := row.Scan(&index); err != nil {
		return 0, fmt.Errorf("next index for %q: %w", e.Owner, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (owner, idx, asset, amount, lock_until_epoch, release_condition_id, initiated, exited, withdrawal_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?)`,
		string(e.Owner), index, e.Asset, e.Amount, e.LockUntilEpoch, e.ReleaseConditionID,
		e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO asset_totals (asset, deposited, retained) VALUES (?, ?, 0)
		ON CONFLICT (asset) DO UPDATE SET deposited = deposited + excluded.deposited`,
		e.Asset, e.Amount)
	if err != nil {
		return 0, fmt.Errorf("bump deposited total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return index, nil
}

const entryColumns = `owner, idx, asset, amount, lock_until_epoch, release_condition_id, initiated, exited, withdrawal_amount, created_at`

func (s *SQLiteStore) Get(ctx context.Context, owner contracts.Principal, index uint64) (*contracts.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE owner = ? AND idx = ?`,
		string(owner), index)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(owner, index)
	}
	return e, err
}

func (s *SQLiteStore) List(ctx context.Context, owner contracts.Principal) ([]*contracts.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE owner = ? ORDER BY idx`,
		string(owner))
	if err != nil {
		return nil, fmt.Errorf("list entries of %q: %w", owner, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []*contracts.Entry{}
	}
	return out, nil
}

func (s *SQLiteStore) MarkInitiated(ctx context.Context, owner contracts.Principal, index uint64, withdrawalAmount uint64) error {
	return s.mutate(ctx, owner, index, func(tx *sql.Tx, e *contracts.Entry) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET initiated = 1, withdrawal_amount = ? WHERE owner = ? AND idx = ?`,
			withdrawalAmount, string(owner), index)
		return err
	})
}

func (s *SQLiteStore) ClearInitiated(ctx context.Context, owner contracts.Principal, index uint64) error {
	return s.mutate(ctx, owner, index, func(tx *sql.Tx, e *contracts.Entry) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET initiated = 0, withdrawal_amount = 0 WHERE owner = ? AND idx = ?`,
			string(owner), index)
		return err
	})
}

func (s *SQLiteStore) MarkExited(ctx context.Context, owner contracts.Principal, index uint64, finalAmount uint64) error {
	return s.mutate(ctx, owner, index, func(tx *sql.Tx, e *contracts.Entry) error {
		if finalAmount > e.Amount {
			return fmt.Errorf("final amount %d exceeds entry amount %d: %w", finalAmount, e.Amount, contracts.ErrInvalidInput)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET exited = 1, amount = 0, withdrawal_amount = ? WHERE owner = ? AND idx = ?`,
			finalAmount, string(owner), index)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE asset_totals SET deposited = deposited - ?, retained = retained + ? WHERE asset = ?`,
			e.Amount, e.Amount-finalAmount, e.Asset)
		return err
	})
}

func (s *SQLiteStore) Totals(ctx context.Context, asset string) (Totals, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT deposited, retained FROM asset_totals WHERE asset = ?`, asset)
	var t Totals
	err := row.Scan(&t.Deposited, &t.Retained)
	if errors.Is(err, sql.ErrNoRows) {
		return Totals{}, nil
	}
	if err != nil {
		return Totals{}, fmt.Errorf("totals for %q: %w", asset, err)
	}
	return t, nil
}

func (s *SQLiteStore) LoadVaultState(ctx context.Context) (VaultState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT current_epoch, epoch_started_at, mode FROM vault_state WHERE id = 1`)
	var (
		st        VaultState
		startedAt string
		m         string
	)
	err := row.Scan(&st.CurrentEpoch, &startedAt, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return VaultState{}, false, nil
	}
	if err != nil {
		return VaultState{}, false, fmt.Errorf("load vault state: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339Nano, startedAt); perr == nil {
		st.EpochStartedAt = t
	}
	st.Mode = contracts.Mode(m)
	return st, true, nil
}

func (s *SQLiteStore) SaveVaultState(ctx context.Context, st VaultState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_state (id, current_epoch, epoch_started_at, mode) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			current_epoch = excluded.current_epoch,
			epoch_started_at = excluded.epoch_started_at,
			mode = excluded.mode`,
		st.CurrentEpoch, st.EpochStartedAt.UTC().Format(time.RFC3339Nano), string(st.Mode))
	if err != nil {
		return fmt.Errorf("save vault state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveClockState(ctx context.Context, current uint64, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vault_state SET current_epoch = ?, epoch_started_at = ? WHERE id = 1`,
		current, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save clock state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveMode(ctx context.Context, m contracts.Mode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vault_state SET mode = ? WHERE id = 1`, string(m))
	if err != nil {
		return fmt.Errorf("save vault mode: %w", err)
	}
	return nil
}

// mutate loads the entry inside a transaction, rejects exited entries, and
// applies fn.
func (s *SQLiteStore) mutate(ctx context.Context, owner contracts.Principal, index uint64, fn func(*sql.Tx, *contracts.Entry) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE owner = ? AND idx = ?`,
		string(owner), index)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(owner, index)
	}
	if err != nil {
		return err
	}
	if e.Exited {
		return alreadyExited(owner, index)
	}

	if err := fn(tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*contracts.Entry, error) {
	var (
		e         contracts.Entry
		owner     string
		idx       uint64
		initiated int
		exited    int
		createdAt string
	)
	err := r.Scan(&owner, &idx, &e.Asset, &e.Amount, &e.LockUntilEpoch,
		&e.ReleaseConditionID, &initiated, &exited, &e.WithdrawalAmount, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Owner = contracts.Principal(owner)
	e.Initiated = initiated != 0
	e.Exited = exited != 0
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		e.CreatedAt = t
	}
	return &e, nil
}
