package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/chronoflux-labs/chronovault/pkg/contracts"
)

// PostgresStore is the shared-deployment durable Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an opened Postgres connection. Schema management
// is external (see migrations in the deployment); the store assumes the
// entries, asset_totals and vault_state tables exist.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, e *contracts.Entry, currentEpoch uint64) (uint64, error) {
	if err := Validate(e, currentEpoch); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var index uint64
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE owner = $1`, string(e.Owner))
	if err := row.Scan(&index); err != nil {
		return 0, fmt.Errorf("next index for %q: %w", e.Owner, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (owner, idx, asset, amount, lock_until_epoch, release_condition_id, initiated, exited, withdrawal_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, 0, $7)`,
		string(e.Owner), index, e.Asset, e.Amount, e.LockUntilEpoch, e.ReleaseConditionID, e.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO asset_totals (asset, deposited, retained) VALUES ($1, $2, 0)
		ON CONFLICT (asset) DO UPDATE SET deposited = asset_totals.deposited + EXCLUDED.deposited`,
		e.Asset, e.Amount)
	if err != nil {
		return 0, fmt.Errorf("bump deposited total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return index, nil
}

const pgEntryColumns = `owner, idx, asset, amount, lock_until_epoch, release_condition_id, initiated, exited, withdrawal_amount, created_at`

func (s *PostgresStore) Get(ctx context.Context, owner contracts.Principal, index uint64) (*contracts.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgEntryColumns+` FROM entries WHERE owner = $1 AND idx = $2`,
		string(owner), index)
	e, err := scanPgEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(owner, index)
	}
	return e, err
}

func (s *PostgresStore) List(ctx context.Context, owner contracts.Principal) ([]*contracts.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgEntryColumns+` FROM entries WHERE owner = $1 ORDER BY idx`,
		string(owner))
	if err != nil {
		return nil, fmt.Errorf("list entries of %q: %w", owner, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
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

func (s *PostgresStore) MarkInitiated(ctx context.Context, owner contracts.Principal, index uint64, withdrawalAmount uint64) error {
	return s.mutate(ctx, owner, index, func(tx *sql.Tx, e *contracts.Entry) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET initiated = TRUE, withdrawal_amount = $1 WHERE owner = $2 AND idx = $3`,
			withdrawalAmount, string(owner), index)
		return err
	})
}

func (s *PostgresStore) ClearInitiated(ctx context.Context, owner contracts.Principal, index uint64) error {
	return s.mutate(ctx, owner, index, func(tx *sql.Tx, e *contracts.Entry) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET initiated = FALSE, withdrawal_amount = 0 WHERE owner = $1 AND idx = $2`,
			string(owner), index)
		return err
	})
}

func (s *PostgresStore) MarkExited(ctx context.Context, owner contracts.Principal, index uint64, finalAmount uint64) error {
	return s.mutate(ctx, owner, index, func(tx *sql.Tx, e *contracts.Entry) error {
		if finalAmount > e.Amount {
			return fmt.Errorf("final amount %d exceeds entry amount %d: %w", finalAmount, e.Amount, contracts.ErrInvalidInput)
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE entries SET exited = TRUE, amount = 0, withdrawal_amount = $1 WHERE owner = $2 AND idx = $3`,
			finalAmount, string(owner), index)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE asset_totals SET deposited = deposited - $1, retained = retained + $2 WHERE asset = $3`,
			e.Amount, e.Amount-finalAmount, e.Asset)
		return err
	})
}

func (s *PostgresStore) Totals(ctx context.Context, asset string) (Totals, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT deposited, retained FROM asset_totals WHERE asset = $1`, asset)
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

func (s *PostgresStore) LoadVaultState(ctx context.Context) (VaultState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT current_epoch, epoch_started_at, mode FROM vault_state WHERE id = 1`)
	var (
		st VaultState
		m  string
	)
	err := row.Scan(&st.CurrentEpoch, &st.EpochStartedAt, &m)
	if errors.Is(err, sql.ErrNoRows) {
		return VaultState{}, false, nil
	}
	if err != nil {
		return VaultState{}, false, fmt.Errorf("load vault state: %w", err)
	}
	st.Mode = contracts.Mode(m)
	return st, true, nil
}

func (s *PostgresStore) SaveVaultState(ctx context.Context, st VaultState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_state (id, current_epoch, epoch_started_at, mode) VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			current_epoch = EXCLUDED.current_epoch,
			epoch_started_at = EXCLUDED.epoch_started_at,
			mode = EXCLUDED.mode`,
		st.CurrentEpoch, st.EpochStartedAt.UTC(), string(st.Mode))
	if err != nil {
		return fmt.Errorf("save vault state: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveClockState(ctx context.Context, current uint64, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vault_state SET current_epoch = $1, epoch_started_at = $2 WHERE id = 1`,
		current, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("save clock state: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveMode(ctx context.Context, m contracts.Mode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE vault_state SET mode = $1 WHERE id = 1`, string(m))
	if err != nil {
		return fmt.Errorf("save vault mode: %w", err)
	}
	return nil
}

// mutate locks the entry row for update, rejects exited entries, applies fn.
func (s *PostgresStore) mutate(ctx context.Context, owner contracts.Principal, index uint64, fn func(*sql.Tx, *contracts.Entry) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mutate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+pgEntryColumns+` FROM entries WHERE owner = $1 AND idx = $2 FOR UPDATE`,
		string(owner), index)
	e, err := scanPgEntry(row)
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

func scanPgEntry(r rowScanner) (*contracts.Entry, error) {
	var (
		e     contracts.Entry
		owner string
		idx   uint64
	)
	err := r.Scan(&owner, &idx, &e.Asset, &e.Amount, &e.LockUntilEpoch,
		&e.ReleaseConditionID, &e.Initiated, &e.Exited, &e.WithdrawalAmount, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Owner = contracts.Principal(owner)
	return &e, nil
}
