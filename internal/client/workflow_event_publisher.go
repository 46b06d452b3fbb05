package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// WorkflowEventPublisher mirrors committed approval transitions to NATS for
// downstream consumers (delivery transports, dashboards).
//
// Subject convention: esg.workflows.<event_type>
// Event types: workflow_created, step_approved, step_rejected
//
// The notification row written inside the engine's transaction is the
// authoritative record; this mirror is best-effort. All publish errors are
// logged and never propagated, so event delivery can never fail an approval.
type WorkflowEventPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// WorkflowEvent is the JSON schema published to NATS.
type WorkflowEvent struct {
	EventType  string         `json:"event_type"`
	WorkflowID string         `json:"workflow_id"`
	ActorID    string         `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NewWorkflowEventPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewWorkflowEventPublisher(conn *nats.Conn, log zerolog.Logger) *WorkflowEventPublisher {
	return &WorkflowEventPublisher{conn: conn, log: log}
}

// PublishWorkflowEvent publishes one workflow transition event.
// Subject: esg.workflows.<eventType>
func (p *WorkflowEventPublisher) PublishWorkflowEvent(ctx context.Context, eventType, workflowID, actorID string, payload map[string]any) {
	if p == nil || p.conn == nil {
		return
	}

	event := &WorkflowEvent{
		EventType:  eventType,
		WorkflowID: workflowID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("events: failed to marshal workflow event")
		return
	}

	subject := fmt.Sprintf("esg.workflows.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("workflow_id", workflowID).
			Msg("events: failed to publish workflow event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", workflowID).
		Msg("events: workflow event published")
}
