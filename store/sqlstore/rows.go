package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crescieperdi/caixa/ledger"
)

// Timestamps are stored as fixed-width UTC text so that string order is
// chronological on every driver.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// REGISTER
// =============================================================================

type registerRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	BalanceCents int64  `db:"balance_cents"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (r registerRow) toRegister() (ledger.Register, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return ledger.Register{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return ledger.Register{}, err
	}
	return ledger.Register{
		ID:        ledger.RegisterID(r.ID),
		Name:      r.Name,
		Balance:   ledger.MoneyFromCents(r.BalanceCents),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// =============================================================================
// MOVEMENT
// =============================================================================

type movementRow struct {
	Seq           int64          `db:"seq"`
	ID            string         `db:"id"`
	Kind          string         `db:"kind"`
	AmountCents   int64          `db:"amount_cents"`
	OriginID      string         `db:"origin_id"`
	DestinationID string         `db:"destination_id"`
	Reason        string         `db:"reason"`
	ReferenceType string         `db:"reference_type"`
	ReferenceID   string         `db:"reference_id"`
	OccurredAt    string         `db:"occurred_at"`
	CreatedBy     string         `db:"created_by"`
	DeletedAt     sql.NullString `db:"deleted_at"`
	DeletedBy     string         `db:"deleted_by"`
	DeleteReason  string         `db:"delete_reason"`
}

func newMovementRow(m ledger.Movement) movementRow {
	return movementRow{
		ID:            string(m.ID),
		Kind:          string(m.Kind),
		AmountCents:   m.Amount.Cents(),
		OriginID:      string(m.Origin),
		DestinationID: string(m.Destination),
		Reason:        m.Reason,
		ReferenceType: string(m.Reference.Type),
		ReferenceID:   m.Reference.ID,
		OccurredAt:    formatTime(m.OccurredAt),
		CreatedBy:     m.CreatedBy,
		DeletedAt:     nullTime(m.DeletedAt),
		DeletedBy:     m.DeletedBy,
		DeleteReason:  m.DeleteReason,
	}
}

// toMovement keeps unknown kinds as they are; the classifier reports them.
func (r movementRow) toMovement() (ledger.Movement, error) {
	occurred, err := parseTime(r.OccurredAt)
	if err != nil {
		return ledger.Movement{}, err
	}
	deleted, err := parseNullTime(r.DeletedAt)
	if err != nil {
		return ledger.Movement{}, err
	}
	return ledger.Movement{
		ID:           ledger.MovementID(r.ID),
		Kind:         ledger.MovementKind(r.Kind),
		Amount:       ledger.MoneyFromCents(r.AmountCents),
		Origin:       ledger.RegisterID(r.OriginID),
		Destination:  ledger.RegisterID(r.DestinationID),
		Reason:       r.Reason,
		Reference:    ledger.Reference{Type: ledger.ReferenceType(r.ReferenceType), ID: r.ReferenceID},
		OccurredAt:   occurred,
		CreatedBy:    r.CreatedBy,
		Seq:          r.Seq,
		DeletedAt:    deleted,
		DeletedBy:    r.DeletedBy,
		DeleteReason: r.DeleteReason,
	}, nil
}

// =============================================================================
// CLOSING
// =============================================================================

type closingRow struct {
	ID              string         `db:"id"`
	RegisterID      string         `db:"register_id"`
	Date            string         `db:"date"`
	SystemCents     int64          `db:"system_cents"`
	CountedCents    int64          `db:"counted_cents"`
	VarianceCents   int64          `db:"variance_cents"`
	VarianceClass   string         `db:"variance_class"`
	Status          string         `db:"status"`
	RequiresReview  int            `db:"requires_review"`
	Manual          int            `db:"manual"`
	Justification   string         `db:"justification"`
	RejectionReason string         `db:"rejection_reason"`
	ApprovalNote    string         `db:"approval_note"`
	CreatedBy       string         `db:"created_by"`
	CreatedAt       string         `db:"created_at"`
	DecidedBy       string         `db:"decided_by"`
	DecidedAt       sql.NullString `db:"decided_at"`
}

func newClosingRow(c ledger.Closing) closingRow {
	return closingRow{
		ID:              string(c.ID),
		RegisterID:      string(c.RegisterID),
		Date:            c.Date.String(),
		SystemCents:     c.SystemAmount.Cents(),
		CountedCents:    c.CountedAmount.Cents(),
		VarianceCents:   c.Variance.Cents(),
		VarianceClass:   string(c.VarianceClass),
		Status:          string(c.Status),
		RequiresReview:  boolInt(c.RequiresReview),
		Manual:          boolInt(c.Manual),
		Justification:   c.Justification,
		RejectionReason: c.RejectionReason,
		ApprovalNote:    c.ApprovalNote,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       formatTime(c.CreatedAt),
		DecidedBy:       c.DecidedBy,
		DecidedAt:       nullTime(c.DecidedAt),
	}
}

func (r closingRow) toClosing() (ledger.Closing, error) {
	date, err := ledger.ParseDate(r.Date)
	if err != nil {
		return ledger.Closing{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return ledger.Closing{}, err
	}
	decided, err := parseNullTime(r.DecidedAt)
	if err != nil {
		return ledger.Closing{}, err
	}
	return ledger.Closing{
		ID:              ledger.ClosingID(r.ID),
		RegisterID:      ledger.RegisterID(r.RegisterID),
		Date:            date,
		SystemAmount:    ledger.MoneyFromCents(r.SystemCents),
		CountedAmount:   ledger.MoneyFromCents(r.CountedCents),
		Variance:        ledger.MoneyFromCents(r.VarianceCents),
		VarianceClass:   ledger.VarianceClass(r.VarianceClass),
		Status:          ledger.ClosingStatus(r.Status),
		RequiresReview:  r.RequiresReview != 0,
		Manual:          r.Manual != 0,
		Justification:   r.Justification,
		RejectionReason: r.RejectionReason,
		ApprovalNote:    r.ApprovalNote,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       created,
		DecidedBy:       r.DecidedBy,
		DecidedAt:       decided,
	}, nil
}

// =============================================================================
// POSTING
// =============================================================================

type postingRow struct {
	ID            string `db:"id"`
	Kind          string `db:"kind"`
	ReferenceType string `db:"reference_type"`
	ReferenceID   string `db:"reference_id"`
	RegisterName  string `db:"register_name"`
	AmountCents   int64  `db:"amount_cents"`
	Method        string `db:"method"`
	OccurredAt    string `db:"occurred_at"`
	Status        string `db:"status"`
	Attempts      int    `db:"attempts"`
	LastError     string `db:"last_error"`
	MovementID    string `db:"movement_id"`
	CreatedBy     string `db:"created_by"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func newPostingRow(p ledger.Posting) postingRow {
	return postingRow{
		ID:            string(p.ID),
		Kind:          string(p.Kind),
		ReferenceType: string(p.Reference.Type),
		ReferenceID:   p.Reference.ID,
		RegisterName:  p.RegisterName,
		AmountCents:   p.Amount.Cents(),
		Method:        string(p.Method),
		OccurredAt:    formatTime(p.OccurredAt),
		Status:        string(p.Status),
		Attempts:      p.Attempts,
		LastError:     p.LastError,
		MovementID:    string(p.MovementID),
		CreatedBy:     p.CreatedBy,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func (r postingRow) toPosting() (ledger.Posting, error) {
	occurred, err := parseTime(r.OccurredAt)
	if err != nil {
		return ledger.Posting{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return ledger.Posting{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return ledger.Posting{}, err
	}
	return ledger.Posting{
		ID:           ledger.PostingID(r.ID),
		Kind:         ledger.MovementKind(r.Kind),
		Reference:    ledger.Reference{Type: ledger.ReferenceType(r.ReferenceType), ID: r.ReferenceID},
		RegisterName: r.RegisterName,
		Amount:       ledger.MoneyFromCents(r.AmountCents),
		Method:       ledger.PaymentMethod(r.Method),
		OccurredAt:   occurred,
		Status:       ledger.PostingStatus(r.Status),
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		MovementID:   ledger.MovementID(r.MovementID),
		CreatedBy:    r.CreatedBy,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, nil
}
