package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/greenchain/esg-approvals/internal/ledger"
	"github.com/greenchain/esg-approvals/internal/repository"
)

// AuditService is the read side of the audit ledger.
type AuditService struct {
	store repository.Store
	log   zerolog.Logger
}

// NewAuditService creates an AuditService.
func NewAuditService(store repository.Store, log zerolog.Logger) *AuditService {
	return &AuditService{store: store, log: log}
}

// GetAuditLogs returns matching entries newest-first.
func (s *AuditService) GetAuditLogs(ctx context.Context, f repository.AuditFilter) ([]*repository.AuditEntry, error) {
	return s.store.ListAudit(ctx, f)
}

// VerifyChain walks the full audit chain from genesis and returns the number
// of verified entries. A chain-integrity error names the first entry that
// fails; from that point on the log cannot be trusted.
func (s *AuditService) VerifyChain(ctx context.Context) (int, error) {
	stored, err := s.store.ListAuditChain(ctx)
	if err != nil {
		return 0, err
	}

	entries := make([]ledger.Entry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, ledger.Entry{
			ID: e.ID,
			Payload: ledger.Payload{
				Action:   e.Action,
				UserID:   e.UserID,
				Category: e.Category,
				Details:  e.Details,
				Metadata: e.Metadata,
			},
			PreviousHash: e.PreviousHash,
			Hash:         e.Hash,
			CreatedAt:    e.CreatedAt,
		})
	}

	if err := ledger.Verify(entries); err != nil {
		s.log.Error().Err(err).Int("entries", len(entries)).Msg("Audit chain verification failed")
		return 0, err
	}
	return len(entries), nil
}
