package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// AUDIT - Emission contract; storage and querying live outside the ledger
// =============================================================================

type AuditAction string

const (
	AuditRegisterCreated  AuditAction = "register_created"
	AuditMovementCreated  AuditAction = "movement_created"
	AuditMovementDeleted  AuditAction = "movement_deleted"
	AuditTransferExecuted AuditAction = "transfer_executed"
	AuditClosingCreated   AuditAction = "closing_created"
	AuditClosingApproved  AuditAction = "closing_approved"
	AuditClosingRejected  AuditAction = "closing_rejected"
	AuditClosingDeleted   AuditAction = "closing_deleted"
	AuditPostingFailed    AuditAction = "posting_failed"
	AuditPostingRetried   AuditAction = "posting_retried"
)

// Tables named in AuditEvent.Table.
const (
	TableRegisters = "registers"
	TableMovements = "movements"
	TableClosings  = "closings"
	TablePostings  = "postings"
)

// AuditEvent is emitted after every state change commits.
type AuditEvent struct {
	Action   AuditAction
	Table    string
	RecordID string
	Actor    string
	Before   any
	After    any
	Details  map[string]any
	At       time.Time
}

// AuditRecord is a stored audit event with its payloads still encoded, as
// read back by an audit query.
type AuditRecord struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	Table    string          `json:"table"`
	RecordID string          `json:"record_id"`
	Actor    string          `json:"actor"`
	Before   json.RawMessage `json:"before,omitempty"`
	After    json.RawMessage `json:"after,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
	At       time.Time       `json:"at"`
}

// AuditSink receives audit events. Emission failures never undo the
// operation that produced the event; the ledger logs them and moves on.
type AuditSink interface {
	Emit(ctx context.Context, ev AuditEvent) error
}

// LogAuditSink writes audit events as structured log lines.
type LogAuditSink struct {
	Logger zerolog.Logger
}

func (s LogAuditSink) Emit(_ context.Context, ev AuditEvent) error {
	e := s.Logger.Info().
		Str("audit_action", string(ev.Action)).
		Str("affected_table", ev.Table).
		Str("record_id", ev.RecordID).
		Str("actor", ev.Actor).
		Time("at", ev.At)
	if ev.Before != nil {
		e = e.Interface("before", ev.Before)
	}
	if ev.After != nil {
		e = e.Interface("after", ev.After)
	}
	if len(ev.Details) > 0 {
		e = e.Fields(ev.Details)
	}
	e.Msg("audit")
	return nil
}

// MultiSink fans an event out to several sinks and returns the first error.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, ev AuditEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
