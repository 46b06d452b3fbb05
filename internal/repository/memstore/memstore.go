// Package memstore is an in-memory repository.Store used by the unit tests
// and for running the service without Postgres. Transactions are simulated
// with a full snapshot taken before the callback and restored when it errors,
// which gives the same all-or-nothing semantics the pg store gets from a
// real transaction.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenchain/esg-approvals/internal/apperr"
	"github.com/greenchain/esg-approvals/internal/ledger"
	"github.com/greenchain/esg-approvals/internal/repository"
)

// Store is the in-memory repository.Store.
type Store struct {
	mu sync.Mutex

	workflows     []*repository.ApprovalWorkflow
	steps         []*repository.ApprovalStep
	audits        []*repository.AuditEntry
	notifications []*repository.Notification
	auditSeq      int64

	// failures maps an operation name (e.g. "AppendAudit") to an error the
	// next call to that operation returns. Test hook for atomicity checks.
	failures map[string]error

	inTx bool
}

// New creates an empty store.
func New() *Store {
	return &Store{failures: make(map[string]error)}
}

// FailOn makes the next call to the named operation fail with err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

type snapshot struct {
	workflows     []*repository.ApprovalWorkflow
	steps         []*repository.ApprovalStep
	audits        []*repository.AuditEntry
	notifications []*repository.Notification
	auditSeq      int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{auditSeq: s.auditSeq}
	for _, wf := range s.workflows {
		c := *wf
		snap.workflows = append(snap.workflows, &c)
	}
	for _, st := range s.steps {
		c := *st
		snap.steps = append(snap.steps, &c)
	}
	for _, a := range s.audits {
		c := *a
		snap.audits = append(snap.audits, &c)
	}
	for _, n := range s.notifications {
		c := *n
		snap.notifications = append(snap.notifications, &c)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.workflows = snap.workflows
	s.steps = snap.steps
	s.audits = snap.audits
	s.notifications = snap.notifications
	s.auditSeq = snap.auditSeq
}

// WithinTx runs fn and rolls the store back to its prior state when fn errors.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return fn(s)
	}
	snap := s.snapshot()
	s.inTx = true
	s.mu.Unlock()

	err := fn(s)

	s.mu.Lock()
	s.inTx = false
	if err != nil {
		s.restore(snap)
	}
	s.mu.Unlock()
	return err
}

// ── Workflows ─────────────────────────────────────────────────────────────────

func (s *Store) InsertWorkflow(ctx context.Context, wf *repository.ApprovalWorkflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertWorkflow"); err != nil {
		return err
	}
	now := time.Now().UTC()
	wf.ID = uuid.NewString()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	c := *wf
	c.Steps = nil
	s.workflows = append(s.workflows, &c)
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*repository.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wf := range s.workflows {
		if wf.ID == id {
			c := *wf
			return &c, nil
		}
	}
	return nil, apperr.NotFound("workflow", id)
}

// GetWorkflowForUpdate behaves like GetWorkflow; the store's mutex already
// serializes all access, so there is no separate row lock to take.
func (s *Store) GetWorkflowForUpdate(ctx context.Context, id string) (*repository.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetWorkflowForUpdate"); err != nil {
		return nil, err
	}
	for _, wf := range s.workflows {
		if wf.ID == id {
			c := *wf
			return &c, nil
		}
	}
	return nil, apperr.NotFound("workflow", id)
}

func (s *Store) ListWorkflows(ctx context.Context, f repository.WorkflowFilter) ([]*repository.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.ApprovalWorkflow
	for _, wf := range s.workflows {
		if f.Status != nil && wf.Status != *f.Status {
			continue
		}
		if f.SubmittedBy != nil && wf.SubmittedBy != *f.SubmittedBy {
			continue
		}
		c := *wf
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SetWorkflowStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("SetWorkflowStatus"); err != nil {
		return err
	}
	for _, wf := range s.workflows {
		if wf.ID == id {
			wf.Status = status
			wf.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.NotFound("workflow", id)
}

func (s *Store) AdvanceWorkflowLevel(ctx context.Context, id string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("AdvanceWorkflowLevel"); err != nil {
		return err
	}
	for _, wf := range s.workflows {
		if wf.ID == id {
			wf.CurrentLevel = level
			wf.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.NotFound("workflow", id)
}

// ── Steps ─────────────────────────────────────────────────────────────────────

func (s *Store) InsertStep(ctx context.Context, step *repository.ApprovalStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertStep"); err != nil {
		return err
	}
	now := time.Now().UTC()
	step.ID = uuid.NewString()
	step.CreatedAt = now
	step.UpdatedAt = now
	c := *step
	s.steps = append(s.steps, &c)
	return nil
}

func (s *Store) ListSteps(ctx context.Context, workflowID string) ([]*repository.ApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.ApprovalStep
	for _, st := range s.steps {
		if st.WorkflowID == workflowID {
			c := *st
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (s *Store) GetStep(ctx context.Context, workflowID string, level int) (*repository.ApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.steps {
		if st.WorkflowID == workflowID && st.Level == level {
			c := *st
			return &c, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeNotFound, "step level %d not found for workflow %s", level, workflowID)
}

func (s *Store) RecordStepAction(ctx context.Context, stepID, status, approver, comments string, actionAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("RecordStepAction"); err != nil {
		return err
	}
	for _, st := range s.steps {
		if st.ID == stepID {
			st.Status = status
			st.Approver = &approver
			st.Comments = &comments
			at := actionAt
			st.ActionAt = &at
			st.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperr.NotFound("step", stepID)
}

// ── Audit chain ───────────────────────────────────────────────────────────────

func (s *Store) AppendAudit(ctx context.Context, entry *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("AppendAudit"); err != nil {
		return err
	}

	prevHash := ledger.GenesisHash
	if len(s.audits) > 0 {
		prevHash = s.audits[len(s.audits)-1].Hash
	}

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

	s.auditSeq++
	entry.ID = uuid.NewString()
	entry.Seq = s.auditSeq
	entry.PreviousHash = prevHash
	entry.Hash = hash
	entry.CreatedAt = createdAt
	c := *entry
	s.audits = append(s.audits, &c)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, f repository.AuditFilter) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := f.Limit
	if limit <= 0 {
		limit = repository.DefaultAuditLimit
	}
	var out []*repository.AuditEntry
	for i := len(s.audits) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.audits[i]
		if f.UserID != nil && e.UserID != *f.UserID {
			continue
		}
		if f.Category != nil && e.Category != *f.Category {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListAuditChain(ctx context.Context) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.AuditEntry, 0, len(s.audits))
	for _, e := range s.audits {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// TamperAudit overwrites a stored audit entry in place. Test hook for chain
// verification failure cases.
func (s *Store) TamperAudit(index int, mutate func(e *repository.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.audits) {
		mutate(s.audits[index])
	}
}

// ── Notifications ─────────────────────────────────────────────────────────────

func (s *Store) InsertNotification(ctx context.Context, n *repository.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertNotification"); err != nil {
		return err
	}
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	c := *n
	s.notifications = append(s.notifications, &c)
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*repository.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) (*repository.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			n.Read = true
			c := *n
			return &c, nil
		}
	}
	return nil, nil
}
