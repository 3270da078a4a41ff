/*
Package ledger provides the cash-register ledger for the store's back office.

PURPOSE:
  Every caixa (cash register) has a live balance. The balance only moves when
  a Movement is accepted, and every Movement is classified into signed
  effects on the registers it references. The same classifier drives live
  balance maintenance, reversals and statement (extrato) reconstruction, so
  the three can never disagree.

KEY CONCEPTS IN THIS FILE (types.go):
  - Register: a named caixa with its live balance
  - Movement: an unsigned amount plus a kind and origin/destination roles
  - Reference: link from a Movement back to the business record (sale,
    evaluation) that produced it
  - Closing: end-of-day snapshot comparing system and counted cash
  - Posting: a ledger write requested by a business action, kept for
    follow-up when it fails

DESIGN PRINCIPLES:
  1. Amounts are never signed: direction is derived from kind + role
  2. Precision: Money is shopspring/decimal rounded to the cent
  3. Explicit registers: no operation depends on an ambient "current caixa"
  4. Atomicity: movement records and balance changes commit together

SEE ALSO:
  - classify.go: Movement Classifier
  - ledger.go: Movement Log and Balance Store access
  - closing.go: Closing (fechamento) workflow
  - statement.go: Statement (extrato) reconstruction
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RegisterID string
type MovementID string
type ClosingID string
type PostingID string

// =============================================================================
// REGISTER - A named caixa
// =============================================================================

type Register struct {
	ID        RegisterID
	Name      string
	Balance   Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// MOVEMENT - One balance-affecting event
// =============================================================================

type MovementKind string

const (
	KindSale             MovementKind = "sale"              // cash from a finalized sale
	KindEvaluationPayout MovementKind = "evaluation_payout" // cash paid for an evaluated lot
	KindManualCredit     MovementKind = "manual_credit"     // entrada
	KindManualDebit      MovementKind = "manual_debit"      // saida
	KindTransfer         MovementKind = "transfer"          // sangria / suprimento
)

// Valid reports whether k is one of the known kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case KindSale, KindEvaluationPayout, KindManualCredit, KindManualDebit, KindTransfer:
		return true
	}
	return false
}

type ReferenceType string

const (
	RefSale       ReferenceType = "sale"
	RefEvaluation ReferenceType = "evaluation"
)

func (t ReferenceType) Valid() bool {
	return t == RefSale || t == RefEvaluation
}

// Reference points from a movement to the business record that produced it.
// Reversing a sale or evaluation is a lookup by Reference.
type Reference struct {
	Type ReferenceType
	ID   string
}

func (r Reference) IsZero() bool { return r.Type == "" && r.ID == "" }

func (r Reference) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

type Movement struct {
	ID          MovementID
	Kind        MovementKind
	Amount      Money
	Origin      RegisterID // empty when the kind has no origin side
	Destination RegisterID // empty when the kind has no destination side
	Reason      string
	Reference   Reference
	OccurredAt  time.Time
	CreatedBy   string

	// Seq is assigned by the store on insert and orders movements that
	// share an OccurredAt.
	Seq int64

	DeletedAt    *time.Time
	DeletedBy    string
	DeleteReason string
}

func (m Movement) IsDeleted() bool { return m.DeletedAt != nil }

// validateShape checks the amount and that the register roles match the kind.
//
//	sale              destination only
//	evaluation_payout origin only
//	manual_credit     destination only
//	manual_debit      origin only
//	transfer          origin and destination, distinct
func (m Movement) validateShape() error {
	if !m.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero", Err: ErrInvalidAmount}
	}
	if err := checkLimit("amount", m.Amount); err != nil {
		return err
	}
	hasOrigin, hasDest := m.Origin != "", m.Destination != ""
	switch m.Kind {
	case KindSale, KindManualCredit:
		if !hasDest || hasOrigin {
			return &ValidationError{Field: "destination", Message: fmt.Sprintf("%s requires exactly a destination register", m.Kind), Err: ErrInvalidMovement}
		}
	case KindEvaluationPayout, KindManualDebit:
		if !hasOrigin || hasDest {
			return &ValidationError{Field: "origin", Message: fmt.Sprintf("%s requires exactly an origin register", m.Kind), Err: ErrInvalidMovement}
		}
	case KindTransfer:
		if !hasOrigin || !hasDest {
			return &ValidationError{Field: "origin", Message: "transfer requires origin and destination", Err: ErrInvalidMovement}
		}
		if m.Origin == m.Destination {
			return &ValidationError{Field: "destination", Message: "origin and destination must differ", Err: ErrSameRegister}
		}
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown movement kind %q", m.Kind), Err: ErrUnknownMovementKind}
	}
	if !m.Reference.IsZero() && (!m.Reference.Type.Valid() || strings.TrimSpace(m.Reference.ID) == "") {
		return &ValidationError{Field: "reference", Message: "reference needs a known type and an id", Err: ErrMissingReference}
	}
	return nil
}

// =============================================================================
// CLOSING - End-of-day reconciliation snapshot
// =============================================================================

type ClosingStatus string

const (
	ClosingApproved        ClosingStatus = "approved"
	ClosingPendingApproval ClosingStatus = "pending_approval"
	ClosingRejected        ClosingStatus = "rejected"
)

func (s ClosingStatus) Valid() bool {
	return s == ClosingApproved || s == ClosingPendingApproval || s == ClosingRejected
}

// VarianceClass grades |variance| relative to the system amount:
// normal <= 1%, warning <= 5%, critical above that.
type VarianceClass string

const (
	VarianceNormal   VarianceClass = "normal"
	VarianceWarning  VarianceClass = "warning"
	VarianceCritical VarianceClass = "critical"
)

type Closing struct {
	ID             ClosingID
	RegisterID     RegisterID
	Date           Date
	SystemAmount   Money
	CountedAmount  Money
	Variance       Money // counted - system
	VarianceClass  VarianceClass
	Status         ClosingStatus
	RequiresReview bool
	Manual         bool

	Justification   string
	RejectionReason string
	ApprovalNote    string

	CreatedBy string
	CreatedAt time.Time
	DecidedBy string
	DecidedAt *time.Time
}

// =============================================================================
// POSTING - Ledger write requested by a business action
// =============================================================================

type PostingStatus string

const (
	PostingApplied PostingStatus = "applied"
	PostingFailed  PostingStatus = "failed"
)

type Posting struct {
	ID           PostingID
	Kind         MovementKind // sale or evaluation_payout
	Reference    Reference
	RegisterName string
	Amount       Money
	Method       PaymentMethod
	OccurredAt   time.Time
	Status       PostingStatus
	Attempts     int
	LastError    string
	MovementID   MovementID
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// FILTERS
// =============================================================================

// MovementFilter selects movements touching Register (as origin or
// destination) with OccurredAt in [From, To]. Zero values disable a bound.
type MovementFilter struct {
	Register       RegisterID
	From           time.Time
	To             time.Time
	IncludeDeleted bool
}

type ClosingFilter struct {
	Register RegisterID
	Status   ClosingStatus
	From     Date
	To       Date
}
