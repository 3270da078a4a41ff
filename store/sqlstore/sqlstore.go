/*
Package sqlstore provides a SQL implementation of the ledger storage contract.

PURPOSE:
  Implements ledger.TxStore, ledger.Resetter and ledger.AuditSink over sqlx.
  The same queries run on SQLite (mattn/go-sqlite3) and PostgreSQL
  (jackc/pgx/v5/stdlib); placeholders are written as ? and rebound per
  driver.

KEY TABLES:
  registers:    one row per caixa, balance kept as integer cents
  movements:    movement log with soft-delete columns
  closings:     fechamento snapshots and their decisions
  postings:     ledger writes requested by sales and evaluations
  audit_events: append-only audit trail

CONSTRAINTS ENFORCED BY THE DATABASE:
  - idx_movements_live_reference: one live movement per business reference
  - idx_closings_active:          one non-rejected closing per register+day
  - registers.name UNIQUE

BALANCES:
  AdjustBalance is a single UPDATE ... SET balance_cents = balance_cents + ?
  RETURNING balance_cents. The new value is never computed in Go.

CONDITIONAL UPDATES:
  MarkMovementDeleted only matches rows with deleted_at IS NULL and
  DecideClosing only rows with status = 'pending_approval'. Zero affected
  rows become ErrMovementDeleted / ErrConcurrentModification.

SQLITE:
  Opened with WAL and a busy timeout. The pool is limited to one connection
  so ":memory:" databases are shared and writers queue instead of failing
  with SQLITE_BUSY.

USAGE:
  s, err := sqlstore.Open(ctx, "sqlite3", "./data/caixa.db")
  if err != nil {
      return err
  }
  defer s.Close()

  l := ledger.New(s, ledger.WithAuditSink(s))
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/crescieperdi/caixa/ledger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Store implements the ledger storage interfaces on a SQL database.
type Store struct {
	conn
	db     *sqlx.DB
	driver string
}

var (
	_ ledger.TxStore   = (*Store)(nil)
	_ ledger.Resetter  = (*Store)(nil)
	_ ledger.AuditSink = (*Store)(nil)
	_ ledger.Store     = (*conn)(nil)
)

// NormalizeDriver maps accepted driver aliases to a registered driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Open connects to the database and migrates the schema.
// Use driver "sqlite3" with dsn ":memory:" for tests.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{conn: conn{q: db}, db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	if strings.Contains(dsn, "?") {
		return dsn
	}
	if dsn == ":memory:" {
		return dsn + "?_busy_timeout=5000"
	}
	return dsn + "?_journal_mode=WAL&_busy_timeout=5000"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DriverName returns the normalized driver the store was opened with.
func (s *Store) DriverName() string {
	return s.db.DriverName()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&conn{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset deletes every row. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// CONN - Queries shared by the pool and transactions
// =============================================================================

// conn runs every Store query against either the pool or an open
// transaction.
type conn struct {
	q sqlx.ExtContext
}

func (c *conn) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, c.q, dest, c.q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (c *conn) sel(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, c.q, dest, c.q.Rebind(query), args...)
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.q.ExecContext(ctx, c.q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// REGISTERS
// =============================================================================

const registerColumns = `id, name, balance_cents, created_at, updated_at`

func (c *conn) CreateRegister(ctx context.Context, r ledger.Register) error {
	_, err := c.exec(ctx,
		`INSERT INTO registers (`+registerColumns+`) VALUES (?, ?, ?, ?, ?)`,
		string(r.ID), r.Name, r.Balance.Cents(), formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ledger.ErrRegisterExists, r.Name)
	}
	return err
}

func (c *conn) GetRegister(ctx context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	return c.getRegister(ctx, `SELECT `+registerColumns+` FROM registers WHERE id = ?`, string(id))
}

// GetRegisterForUpdate takes a row lock on PostgreSQL. SQLite has no row
// locks; its single connection already serializes writers.
func (c *conn) GetRegisterForUpdate(ctx context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	query := `SELECT ` + registerColumns + ` FROM registers WHERE id = ?`
	if c.q.DriverName() == DriverPostgres {
		query += ` FOR UPDATE`
	}
	return c.getRegister(ctx, query, string(id))
}

func (c *conn) GetRegisterByName(ctx context.Context, name string) (*ledger.Register, error) {
	return c.getRegister(ctx, `SELECT `+registerColumns+` FROM registers WHERE name = ?`, name)
}

func (c *conn) getRegister(ctx context.Context, query string, args ...any) (*ledger.Register, error) {
	var row registerRow
	found, err := c.get(ctx, &row, query, args...)
	if err != nil || !found {
		return nil, err
	}
	r, err := row.toRegister()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *conn) ListRegisters(ctx context.Context) ([]ledger.Register, error) {
	var rows []registerRow
	if err := c.sel(ctx, &rows, `SELECT `+registerColumns+` FROM registers ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]ledger.Register, 0, len(rows))
	for _, row := range rows {
		r, err := row.toRegister()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *conn) AdjustBalance(ctx context.Context, id ledger.RegisterID, delta ledger.Money) (ledger.Money, error) {
	var cents int64
	query := c.q.Rebind(`UPDATE registers SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? RETURNING balance_cents`)
	err := c.q.QueryRowxContext(ctx, query, delta.Cents(), formatTime(time.Now()), string(id)).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Money{}, fmt.Errorf("%w: %s", ledger.ErrRegisterNotFound, id)
	}
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.MoneyFromCents(cents), nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

const movementColumns = `id, kind, amount_cents, origin_id, destination_id, reason,
	reference_type, reference_id, occurred_at, created_by,
	deleted_at, deleted_by, delete_reason`

// seq is generated on insert, so it is only read back.
const movementSelect = `seq, ` + movementColumns

func (c *conn) InsertMovement(ctx context.Context, m ledger.Movement) error {
	row := newMovementRow(m)
	_, err := c.exec(ctx,
		`INSERT INTO movements (`+movementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Kind, row.AmountCents, row.OriginID, row.DestinationID, row.Reason,
		row.ReferenceType, row.ReferenceID, row.OccurredAt, row.CreatedBy,
		row.DeletedAt, row.DeletedBy, row.DeleteReason)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateReference, m.Reference)
	}
	return err
}

func (c *conn) GetMovement(ctx context.Context, id ledger.MovementID) (*ledger.Movement, error) {
	return c.getMovement(ctx, `SELECT `+movementSelect+` FROM movements WHERE id = ?`, string(id))
}

func (c *conn) FindMovementByReference(ctx context.Context, ref ledger.Reference) (*ledger.Movement, error) {
	return c.getMovement(ctx,
		`SELECT `+movementSelect+` FROM movements
		WHERE reference_type = ? AND reference_id = ? AND deleted_at IS NULL`,
		string(ref.Type), ref.ID)
}

func (c *conn) getMovement(ctx context.Context, query string, args ...any) (*ledger.Movement, error) {
	var row movementRow
	found, err := c.get(ctx, &row, query, args...)
	if err != nil || !found {
		return nil, err
	}
	m, err := row.toMovement()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *conn) MarkMovementDeleted(ctx context.Context, id ledger.MovementID, actor, reason string, at time.Time) error {
	n, err := c.exec(ctx,
		`UPDATE movements SET deleted_at = ?, deleted_by = ?, delete_reason = ?
		WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), actor, reason, string(id))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	m, err := c.GetMovement(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ledger.ErrMovementNotFound, id)
	}
	return fmt.Errorf("%w: %s", ledger.ErrMovementDeleted, id)
}

func (c *conn) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	var where []string
	var args []any
	if f.Register != "" {
		where = append(where, "(origin_id = ? OR destination_id = ?)")
		args = append(args, string(f.Register), string(f.Register))
	}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, formatTime(f.To))
	}
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}

	query := `SELECT ` + movementSelect + ` FROM movements` + whereClause(where) + ` ORDER BY occurred_at, seq`
	var rows []movementRow
	if err := c.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]ledger.Movement, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMovement()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// =============================================================================
// CLOSINGS
// =============================================================================

const closingColumns = `id, register_id, date, system_cents, counted_cents, variance_cents,
	variance_class, status, requires_review, manual, justification,
	rejection_reason, approval_note, created_by, created_at, decided_by, decided_at`

func (c *conn) InsertClosing(ctx context.Context, cl ledger.Closing) error {
	row := newClosingRow(cl)
	_, err := c.exec(ctx,
		`INSERT INTO closings (`+closingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.RegisterID, row.Date, row.SystemCents, row.CountedCents, row.VarianceCents,
		row.VarianceClass, row.Status, row.RequiresReview, row.Manual, row.Justification,
		row.RejectionReason, row.ApprovalNote, row.CreatedBy, row.CreatedAt, row.DecidedBy, row.DecidedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s on %s", ledger.ErrClosingExists, cl.RegisterID, cl.Date)
	}
	return err
}

func (c *conn) GetClosing(ctx context.Context, id ledger.ClosingID) (*ledger.Closing, error) {
	return c.getClosing(ctx, `SELECT `+closingColumns+` FROM closings WHERE id = ?`, string(id))
}

func (c *conn) ActiveClosing(ctx context.Context, register ledger.RegisterID, date ledger.Date) (*ledger.Closing, error) {
	return c.getClosing(ctx,
		`SELECT `+closingColumns+` FROM closings
		WHERE register_id = ? AND date = ? AND status <> ?`,
		string(register), date.String(), string(ledger.ClosingRejected))
}

func (c *conn) LatestApprovedClosingBefore(ctx context.Context, register ledger.RegisterID, date ledger.Date) (*ledger.Closing, error) {
	return c.getClosing(ctx,
		`SELECT `+closingColumns+` FROM closings
		WHERE register_id = ? AND status = ? AND date < ?
		ORDER BY date DESC, created_at DESC LIMIT 1`,
		string(register), string(ledger.ClosingApproved), date.String())
}

func (c *conn) getClosing(ctx context.Context, query string, args ...any) (*ledger.Closing, error) {
	var row closingRow
	found, err := c.get(ctx, &row, query, args...)
	if err != nil || !found {
		return nil, err
	}
	cl, err := row.toClosing()
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (c *conn) ListClosings(ctx context.Context, f ledger.ClosingFilter) ([]ledger.Closing, error) {
	var where []string
	var args []any
	if f.Register != "" {
		where = append(where, "register_id = ?")
		args = append(args, string(f.Register))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}

	query := `SELECT ` + closingColumns + ` FROM closings` + whereClause(where) + ` ORDER BY date, created_at`
	var rows []closingRow
	if err := c.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]ledger.Closing, 0, len(rows))
	for _, row := range rows {
		cl, err := row.toClosing()
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, nil
}

func (c *conn) DecideClosing(ctx context.Context, cl ledger.Closing) error {
	row := newClosingRow(cl)
	n, err := c.exec(ctx,
		`UPDATE closings SET status = ?, requires_review = ?, approval_note = ?,
			rejection_reason = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		row.Status, row.RequiresReview, row.ApprovalNote,
		row.RejectionReason, row.DecidedBy, row.DecidedAt,
		row.ID, string(ledger.ClosingPendingApproval))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	existing, err := c.GetClosing(ctx, cl.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ledger.ErrClosingNotFound, cl.ID)
	}
	return fmt.Errorf("%w: closing %s is %s", ledger.ErrConcurrentModification, cl.ID, existing.Status)
}

func (c *conn) DeleteClosing(ctx context.Context, id ledger.ClosingID) error {
	n, err := c.exec(ctx, `DELETE FROM closings WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrClosingNotFound, id)
	}
	return nil
}

// =============================================================================
// POSTINGS
// =============================================================================

const postingColumns = `id, kind, reference_type, reference_id, register_name, amount_cents,
	method, occurred_at, status, attempts, last_error, movement_id,
	created_by, created_at, updated_at`

func (c *conn) SavePosting(ctx context.Context, p ledger.Posting) error {
	row := newPostingRow(p)
	_, err := c.exec(ctx,
		`INSERT INTO postings (`+postingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			movement_id = excluded.movement_id,
			updated_at = excluded.updated_at`,
		row.ID, row.Kind, row.ReferenceType, row.ReferenceID, row.RegisterName, row.AmountCents,
		row.Method, row.OccurredAt, row.Status, row.Attempts, row.LastError, row.MovementID,
		row.CreatedBy, row.CreatedAt, row.UpdatedAt)
	return err
}

func (c *conn) GetPosting(ctx context.Context, id ledger.PostingID) (*ledger.Posting, error) {
	var row postingRow
	found, err := c.get(ctx, &row, `SELECT `+postingColumns+` FROM postings WHERE id = ?`, string(id))
	if err != nil || !found {
		return nil, err
	}
	p, err := row.toPosting()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *conn) ListPostings(ctx context.Context, status ledger.PostingStatus) ([]ledger.Posting, error) {
	var where []string
	var args []any
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}

	query := `SELECT ` + postingColumns + ` FROM postings` + whereClause(where) + ` ORDER BY created_at DESC, id`
	var rows []postingRow
	if err := c.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]ledger.Posting, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPosting()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// isUniqueViolation reports a unique or primary key violation on either
// driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
