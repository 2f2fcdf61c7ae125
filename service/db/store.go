package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/ledgerswap/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides Postgres-backed swap persistence.
// Every query uses bind parameters; uniqueness of txid is enforced by the
// table's primary key, not by the read-before-write in the intake path.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no query metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

const swapColumns = `txid, source_address, amount, confirmations, double_spend_seen, fee, height,
	note, payment_id, subaddr_index, suggested_confirmations_threshold, "timestamp", type,
	unlock_time, target_address, target_amount, status, target_txid, target_timestamp,
	created_at, updated_at`

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// FindByTxid returns the swap recorded for txid, or ErrNotFound.
func (s *Store) FindByTxid(ctx context.Context, txid string) (_ *Swap, err error) {
	defer s.observe("find_by_txid", time.Now(), &err)

	row := s.pool.QueryRow(ctx, `SELECT `+swapColumns+` FROM swaps WHERE txid = $1`, txid)
	swap, err := scanSwap(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find swap %s: %w", txid, err)
	}
	return swap, nil
}

// GetSwap is FindByTxid under the name the API and CLI use.
func (s *Store) GetSwap(ctx context.Context, txid string) (*Swap, error) {
	return s.FindByTxid(ctx, txid)
}

// InsertPending stores a new swap with status Pending.
// Returns ErrDuplicateKey if a swap for the same txid already exists.
func (s *Store) InsertPending(ctx context.Context, params InsertPendingParams) (_ *Swap, err error) {
	defer s.observe("insert_pending", time.Now(), &err)

	subaddr, err := json.Marshal(params.SubaddrIndex)
	if err != nil {
		return nil, fmt.Errorf("encode subaddr_index: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO swaps (
			txid, source_address, amount, confirmations, double_spend_seen, fee, height,
			note, payment_id, subaddr_index, suggested_confirmations_threshold, "timestamp",
			type, unlock_time, target_address, target_amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+swapColumns,
		params.Txid, params.SourceAddress, params.Amount, params.Confirmations,
		params.DoubleSpendSeen, params.Fee, params.Height, params.Note, params.PaymentID,
		string(subaddr), params.SuggestedConfirmationsThreshold, params.Timestamp,
		params.Type, params.UnlockTime, params.TargetAddress, params.TargetAmount,
	)

	swap, err := scanSwap(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert swap %s: %w", params.Txid, err)
	}
	return swap, nil
}

// ListPendingConfirmed returns Pending swaps with confirmations strictly above threshold,
// oldest first. Ties on created_at are broken by txid so the order is stable.
func (s *Store) ListPendingConfirmed(ctx context.Context, threshold int64) (_ []*Swap, err error) {
	defer s.observe("list_pending_confirmed", time.Now(), &err)

	return s.querySwaps(ctx, `
		SELECT `+swapColumns+` FROM swaps
		WHERE status = 0 AND confirmations > $1
		ORDER BY created_at, txid`, threshold)
}

// ListPendingUnconfirmed returns Pending swaps at or below threshold.
// The reconciler refreshes their confirmation counts.
func (s *Store) ListPendingUnconfirmed(ctx context.Context, threshold int64) (_ []*Swap, err error) {
	defer s.observe("list_pending_unconfirmed", time.Now(), &err)

	return s.querySwaps(ctx, `
		SELECT `+swapColumns+` FROM swaps
		WHERE status = 0 AND confirmations <= $1
		ORDER BY created_at, txid`, threshold)
}

// UpdateConfirmations sets the confirmation count of a Pending swap.
// Processed swaps are left untouched.
func (s *Store) UpdateConfirmations(ctx context.Context, txid string, confirmations int64) (err error) {
	defer s.observe("update_confirmations", time.Now(), &err)

	_, err = s.pool.Exec(ctx, `
		UPDATE swaps SET confirmations = $2, updated_at = NOW()
		WHERE txid = $1 AND status = 0`, txid, confirmations)
	if err != nil {
		return fmt.Errorf("update confirmations %s: %w", txid, err)
	}
	return nil
}

// MarkProcessed advances a swap from Pending to Processed.
// Calling it on an already Processed swap is a no-op; the stored target txid is kept.
// Returns ErrNotFound if no swap exists for txid.
func (s *Store) MarkProcessed(ctx context.Context, txid, targetTxid string, at time.Time) (err error) {
	defer s.observe("mark_processed", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `
		UPDATE swaps
		SET status = 1, target_txid = $2, target_timestamp = $3, updated_at = NOW()
		WHERE txid = $1 AND status = 0`,
		txid, targetTxid, pgtype.Timestamptz{Time: at, Valid: true})
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", txid, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM swaps WHERE txid = $1)`, txid).Scan(&exists); err != nil {
		return fmt.Errorf("mark processed %s: %w", txid, err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// ListSwaps returns swaps newest first, optionally filtered by status.
func (s *Store) ListSwaps(ctx context.Context, params ListSwapsParams) (_ []*Swap, err error) {
	defer s.observe("list_swaps", time.Now(), &err)

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	if params.Status != nil {
		return s.querySwaps(ctx, `
			SELECT `+swapColumns+` FROM swaps
			WHERE status = $1
			ORDER BY created_at DESC, txid
			LIMIT $2 OFFSET $3`, int16(*params.Status), limit, params.Offset)
	}
	return s.querySwaps(ctx, `
		SELECT `+swapColumns+` FROM swaps
		ORDER BY created_at DESC, txid
		LIMIT $1 OFFSET $2`, limit, params.Offset)
}

func (s *Store) querySwaps(ctx context.Context, query string, args ...any) ([]*Swap, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query swaps: %w", err)
	}
	defer rows.Close()

	swaps := make([]*Swap, 0)
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		swaps = append(swaps, swap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}
	return swaps, nil
}

func (s *Store) observe(operation string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	var e error
	if err != nil && *err != nil && !errors.Is(*err, ErrNotFound) {
		e = *err
	}
	s.metrics.RecordDBQuery(operation, "swaps", time.Since(start).Seconds(), e)
}

func scanSwap(row pgx.Row) (*Swap, error) {
	var (
		sw         Swap
		subaddr    []byte
		status     int16
		targetTxid pgtype.Text
		targetTime pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	err := row.Scan(
		&sw.Txid, &sw.SourceAddress, &sw.Amount, &sw.Confirmations, &sw.DoubleSpendSeen,
		&sw.Fee, &sw.Height, &sw.Note, &sw.PaymentID, &subaddr,
		&sw.SuggestedConfirmationsThreshold, &sw.Timestamp, &sw.Type, &sw.UnlockTime,
		&sw.TargetAddress, &sw.TargetAmount, &status, &targetTxid, &targetTime,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(subaddr) > 0 {
		if err := json.Unmarshal(subaddr, &sw.SubaddrIndex); err != nil {
			return nil, fmt.Errorf("decode subaddr_index: %w", err)
		}
	}
	sw.Status = Status(status)
	sw.TargetTxid = stringPtrFromPgtext(targetTxid)
	sw.TargetTimestamp = timePtrFromPgTimestamptz(targetTime)
	sw.CreatedAt = createdAt.Time
	sw.UpdatedAt = updatedAt.Time
	return &sw, nil
}

// isDuplicateKeyError reports a unique_violation from Postgres.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
