package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// tables in delete order for Reset.
var tables = []string{"audit_events", "postings", "closings", "movements", "registers"}

// Statements run one at a time: the pgx driver does not accept several
// statements in one prepared Exec.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS registers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		balance_cents BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	// seq orders movements that share occurred_at
	`CREATE TABLE IF NOT EXISTS movements (
		seq {{serial}} PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
		origin_id TEXT NOT NULL DEFAULT '',
		destination_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		reference_type TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		deleted_at TEXT,
		deleted_by TEXT NOT NULL DEFAULT '',
		delete_reason TEXT NOT NULL DEFAULT ''
	)`,
	// Statement reconstruction (hot path)
	`CREATE INDEX IF NOT EXISTS idx_movements_origin_time ON movements(origin_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_destination_time ON movements(destination_id, occurred_at)`,
	// One live movement per business record
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_live_reference
		ON movements(reference_type, reference_id)
		WHERE deleted_at IS NULL AND reference_type <> ''`,

	`CREATE TABLE IF NOT EXISTS closings (
		id TEXT PRIMARY KEY,
		register_id TEXT NOT NULL,
		date TEXT NOT NULL,
		system_cents BIGINT NOT NULL,
		counted_cents BIGINT NOT NULL,
		variance_cents BIGINT NOT NULL,
		variance_class TEXT NOT NULL,
		status TEXT NOT NULL,
		requires_review INTEGER NOT NULL DEFAULT 0,
		manual INTEGER NOT NULL DEFAULT 0,
		justification TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		approval_note TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT
	)`,
	// One active closing per register and day; rejected ones free the slot
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_closings_active
		ON closings(register_id, date)
		WHERE status <> 'rejected'`,
	`CREATE INDEX IF NOT EXISTS idx_closings_register_date ON closings(register_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_closings_status ON closings(status)`,

	`CREATE TABLE IF NOT EXISTS postings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		register_name TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		method TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		last_error TEXT NOT NULL DEFAULT '',
		movement_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_status ON postings(status, created_at)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		before_json TEXT,
		after_json TEXT,
		details_json TEXT,
		at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_events(table_name, record_id, at)`,
}

// migrate creates the schema. For production, a versioned migration tool
// should own these statements.
func (s *Store) migrate(ctx context.Context) error {
	serial := "INTEGER" // SQLite assigns rowid aliases on insert
	if s.driver == DriverPostgres {
		serial = "BIGSERIAL"
	}
	for i, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{serial}}", serial)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
