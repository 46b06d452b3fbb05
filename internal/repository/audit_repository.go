package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/database"
	"github.com/greenchain/esg-approvals/internal/ledger"
)

// ledgerLockKey is the advisory lock key serializing chain appends. All
// appends across all workflows interleave into one chain, so the
// read-tail/compute/insert sequence must never run concurrently.
const ledgerLockKey = 4215

// AuditRepository appends and reads the hash-chained audit log. The table has
// an update/delete-prevention trigger, so Append is the only mutation.
type AuditRepository struct {
	q database.Querier
}

// NewAuditRepository creates a repository bound to a pool or transaction.
func NewAuditRepository(q database.Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// Append chains and inserts one audit entry. It must run inside the caller's
// transaction so the entry commits or rolls back with the state change it
// describes. The advisory xact lock releases with that transaction.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to lock audit ledger")
	}

	prevHash := ledger.GenesisHash
	err := r.q.QueryRow(ctx, `SELECT hash FROM audit_logs ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to read audit chain tail")
	}

	// Postgres stores timestamps at microsecond precision; truncate before
	// hashing so the stored timestamp reproduces the hash.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	hash, err := ledger.ComputeHash(ledger.Payload{
		Action:   entry.Action,
		UserID:   entry.UserID,
		Category: entry.Category,
		Details:  entry.Details,
		Metadata: entry.Metadata,
	}, prevHash, createdAt)
	if err != nil {
		return err
	}

	entry.PreviousHash = prevHash
	entry.Hash = hash
	entry.CreatedAt = createdAt

	metadataJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs
		    (action, user_id, category, details, metadata,
		     previous_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, seq
	`

	err = r.q.QueryRow(ctx, query,
		entry.Action,
		entry.UserID,
		entry.Category,
		entry.Details,
		metadataJSON,
		entry.PreviousHash,
		entry.Hash,
		entry.CreatedAt,
	).Scan(&entry.ID, &entry.Seq)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to append audit entry")
	}
	return nil
}

// List returns matching entries newest-first, capped at f.Limit.
func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	query := `
		SELECT id, seq, action, user_id, category, details, metadata,
		       previous_hash, hash, created_at
		FROM audit_logs
		WHERE ($1::text IS NULL OR user_id = $1)
		  AND ($2::text IS NULL OR category = $2)
		ORDER BY seq DESC
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, f.UserID, f.Category, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ListChain returns the entire log oldest-first for chain verification.
func (r *AuditRepository) ListChain(ctx context.Context) ([]*AuditEntry, error) {
	query := `
		SELECT id, seq, action, user_id, category, details, metadata,
		       previous_hash, hash, created_at
		FROM audit_logs
		ORDER BY seq ASC
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to read audit chain")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte
	err := row.Scan(
		&entry.ID,
		&entry.Seq,
		&entry.Action,
		&entry.UserID,
		&entry.Category,
		&entry.Details,
		&metadataJSON,
		&entry.PreviousHash,
		&entry.Hash,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return entry, nil
}
