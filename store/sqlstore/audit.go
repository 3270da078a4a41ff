package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crescieperdi/caixa/ledger"
)

type auditRow struct {
	ID          string         `db:"id"`
	Action      string         `db:"action"`
	TableName   string         `db:"table_name"`
	RecordID    string         `db:"record_id"`
	Actor       string         `db:"actor"`
	BeforeJSON  sql.NullString `db:"before_json"`
	AfterJSON   sql.NullString `db:"after_json"`
	DetailsJSON sql.NullString `db:"details_json"`
	At          string         `db:"at"`
}

// Emit appends ev to audit_events.
func (s *Store) Emit(ctx context.Context, ev ledger.AuditEvent) error {
	before, err := encodeJSON(ev.Before)
	if err != nil {
		return fmt.Errorf("encode audit before: %w", err)
	}
	after, err := encodeJSON(ev.After)
	if err != nil {
		return fmt.Errorf("encode audit after: %w", err)
	}
	var details sql.NullString
	if len(ev.Details) > 0 {
		if details, err = encodeJSON(ev.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = s.exec(ctx,
		`INSERT INTO audit_events (id, action, table_name, record_id, actor, before_json, after_json, details_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(ev.Action), ev.Table, ev.RecordID, ev.Actor, before, after, details, formatTime(at))
	return err
}

// AuditEvents returns the audit trail of one record, oldest first. An empty
// recordID returns the whole table; an empty table returns everything.
func (s *Store) AuditEvents(ctx context.Context, table, recordID string, limit int) ([]ledger.AuditRecord, error) {
	var where []string
	var args []any
	if table != "" {
		where = append(where, "table_name = ?")
		args = append(args, table)
	}
	if recordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, recordID)
	}
	query := `SELECT id, action, table_name, record_id, actor, before_json, after_json, details_json, at
		FROM audit_events` + whereClause(where) + ` ORDER BY at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []auditRow
	if err := s.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]ledger.AuditRecord, 0, len(rows))
	for _, r := range rows {
		at, err := parseTime(r.At)
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.AuditRecord{
			ID:       r.ID,
			Action:   r.Action,
			Table:    r.TableName,
			RecordID: r.RecordID,
			Actor:    r.Actor,
			Before:   rawJSON(r.BeforeJSON),
			After:    rawJSON(r.AfterJSON),
			Details:  rawJSON(r.DetailsJSON),
			At:       at,
		})
	}
	return out, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func rawJSON(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}
