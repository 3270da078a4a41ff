/*
closing.go - Fechamento (end-of-day closing) workflow

STATE MACHINE (per register + date):

	none ──(variance == 0)──▶ approved
	none ──(variance != 0, justification)──▶ pending_approval
	pending_approval ──approve──▶ approved
	pending_approval ──reject (reason)──▶ rejected
	rejected ──▶ none (a fresh closing may be created)

  A decision is a conditional update on status = pending_approval, so two
  approvers racing on the same closing get exactly one winner and one
  ErrConcurrentModification.

SYSTEM AMOUNT:
  The balance of the register at the end of the closing day, read inside the
  same transaction that inserts the closing. For today that is the live
  balance; for a past day the effects of later movements are taken back out.

BALANCE:
  Approval records the variance and never touches the live balance. The
  next day opens from system_amount.

OPENING BALANCE CHAIN:
  approved closing on D-1        -> source "closing"
  older approved closing only    -> source "fallback_closing", movements
                                    between that closing and D are replayed
  no approved closing at all     -> 0, source "none", NoPriorClosing
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	normalVariancePct  = decimal.NewFromInt(1)
	warningVariancePct = decimal.NewFromInt(5)
)

// ClassifyVariance grades a variance relative to the system amount.
// Any variance against a zero system amount is critical.
func ClassifyVariance(variance, system Money) VarianceClass {
	if variance.IsZero() {
		return VarianceNormal
	}
	if system.IsZero() {
		return VarianceCritical
	}
	pct := variance.ratioPercent(system)
	switch {
	case pct.LessThanOrEqual(normalVariancePct):
		return VarianceNormal
	case pct.LessThanOrEqual(warningVariancePct):
		return VarianceWarning
	default:
		return VarianceCritical
	}
}

// =============================================================================
// CREATE
// =============================================================================

type CloseInput struct {
	Register      RegisterID
	Date          Date // zero means today
	Counted       Money
	Justification string
	Actor         string
}

// CloseRegister records the closing of a register for a day.
func (l *Ledger) CloseRegister(ctx context.Context, in CloseInput) (*Closing, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	if in.Counted.IsNegative() {
		return nil, &ValidationError{Field: "counted_amount", Message: "must not be negative", Err: ErrInvalidAmount}
	}
	if err := checkLimit("counted_amount", in.Counted); err != nil {
		return nil, err
	}
	date, err := l.closingDate(in.Date)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	var c Closing
	err = l.store.WithTx(ctx, func(s Store) error {
		// Locked so the balance and the later movements below describe the
		// same state.
		reg, err := s.GetRegisterForUpdate(ctx, in.Register)
		if err != nil {
			return err
		}
		if reg == nil {
			return &ValidationError{Field: "register", Message: fmt.Sprintf("unknown register %s", in.Register), Err: ErrRegisterNotFound}
		}
		system, err := l.balanceAtEndOf(ctx, s, *reg, date)
		if err != nil {
			return err
		}

		variance := in.Counted.Sub(system)
		justification := strings.TrimSpace(in.Justification)
		if !variance.IsZero() && justification == "" {
			return &ValidationError{
				Field:   "justification",
				Message: fmt.Sprintf("variance of %s requires a justification", variance),
				Err:     ErrJustificationRequired,
			}
		}

		c = Closing{
			ID:            ClosingID(l.newID()),
			RegisterID:    reg.ID,
			Date:          date,
			SystemAmount:  system,
			CountedAmount: in.Counted,
			Variance:      variance,
			VarianceClass: ClassifyVariance(variance, system),
			Justification: justification,
			CreatedBy:     in.Actor,
			CreatedAt:     now,
		}
		if variance.IsZero() {
			c.Status = ClosingApproved
			c.DecidedBy = in.Actor
			c.DecidedAt = &now
		} else {
			c.Status = ClosingPendingApproval
			c.RequiresReview = true
		}
		return s.InsertClosing(ctx, c)
	})
	if err != nil {
		return nil, storeErr("close register", err)
	}

	l.closingRecorded(ctx, c)
	return &c, nil
}

type ManualClosingInput struct {
	Register      RegisterID
	Date          Date
	Counted       Money
	Justification string
	Actor         string
}

// CreateManualClosing records a retroactive, auto-approved closing where no
// system figure is available: the counted amount stands in for it.
func (l *Ledger) CreateManualClosing(ctx context.Context, in ManualClosingInput) (*Closing, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	if in.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "closing date is required"}
	}
	if in.Counted.IsNegative() {
		return nil, &ValidationError{Field: "counted_amount", Message: "must not be negative", Err: ErrInvalidAmount}
	}
	if err := checkLimit("counted_amount", in.Counted); err != nil {
		return nil, err
	}
	date, err := l.closingDate(in.Date)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	var c Closing
	err = l.store.WithTx(ctx, func(s Store) error {
		reg, err := s.GetRegister(ctx, in.Register)
		if err != nil {
			return err
		}
		if reg == nil {
			return &ValidationError{Field: "register", Message: fmt.Sprintf("unknown register %s", in.Register), Err: ErrRegisterNotFound}
		}
		c = Closing{
			ID:            ClosingID(l.newID()),
			RegisterID:    reg.ID,
			Date:          date,
			SystemAmount:  in.Counted,
			CountedAmount: in.Counted,
			Variance:      Zero(),
			VarianceClass: VarianceNormal,
			Status:        ClosingApproved,
			Manual:        true,
			Justification: strings.TrimSpace(in.Justification),
			CreatedBy:     in.Actor,
			CreatedAt:     now,
			DecidedBy:     in.Actor,
			DecidedAt:     &now,
		}
		return s.InsertClosing(ctx, c)
	})
	if err != nil {
		return nil, storeErr("create manual closing", err)
	}

	l.closingRecorded(ctx, c)
	return &c, nil
}

// =============================================================================
// DECIDE
// =============================================================================

// ApproveClosing approves a pending closing. The live balance is unchanged.
func (l *Ledger) ApproveClosing(ctx context.Context, id ClosingID, approver, note string) (*Closing, error) {
	if err := requireActor(approver); err != nil {
		return nil, err
	}
	return l.decide(ctx, id, approver, func(c *Closing) error {
		c.Status = ClosingApproved
		c.RequiresReview = false
		c.ApprovalNote = strings.TrimSpace(note)
		return nil
	})
}

// RejectClosing rejects a pending closing. The register+date slot is freed
// for a new closing.
func (l *Ledger) RejectClosing(ctx context.Context, id ClosingID, approver, reason string) (*Closing, error) {
	if err := requireActor(approver); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "rejection reason is required", Err: ErrRejectionReasonRequired}
	}
	return l.decide(ctx, id, approver, func(c *Closing) error {
		c.Status = ClosingRejected
		c.RejectionReason = reason
		return nil
	})
}

func (l *Ledger) decide(ctx context.Context, id ClosingID, approver string, apply func(*Closing) error) (*Closing, error) {
	now := l.now().UTC()
	var before, after Closing
	err := l.store.WithTx(ctx, func(s Store) error {
		c, err := s.GetClosing(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %s", ErrClosingNotFound, id)
		}
		if c.Status != ClosingPendingApproval {
			return fmt.Errorf("%w: closing %s is %s", ErrClosingNotPending, id, c.Status)
		}
		before, after = *c, *c
		if err := apply(&after); err != nil {
			return err
		}
		after.DecidedBy = approver
		after.DecidedAt = &now
		return s.DecideClosing(ctx, after)
	})
	if err != nil {
		return nil, storeErr("decide closing", err)
	}

	action := AuditClosingApproved
	if after.Status == ClosingRejected {
		action = AuditClosingRejected
	}
	l.log.Info().
		Str("closing_id", string(after.ID)).
		Str("register_id", string(after.RegisterID)).
		Str("date", after.Date.String()).
		Str("status", string(after.Status)).
		Str("actor", approver).
		Msg("closing decided")
	l.obs.ClosingDecided(after.Status)
	l.emit(ctx, AuditEvent{Action: action, Table: TableClosings, RecordID: string(after.ID), Actor: approver, Before: before, After: after})
	return &after, nil
}

// =============================================================================
// DELETE / QUERY
// =============================================================================

// DeleteClosing removes a closing. Register balances are unaffected, but the
// opening balance of later days falls back to an older closing.
func (l *Ledger) DeleteClosing(ctx context.Context, id ClosingID, actor string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	var removed Closing
	err := l.store.WithTx(ctx, func(s Store) error {
		c, err := s.GetClosing(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %s", ErrClosingNotFound, id)
		}
		removed = *c
		return s.DeleteClosing(ctx, id)
	})
	if err != nil {
		return storeErr("delete closing", err)
	}

	l.log.Warn().
		Str("closing_id", string(removed.ID)).
		Str("register_id", string(removed.RegisterID)).
		Str("date", removed.Date.String()).
		Str("actor", actor).
		Msg("closing deleted; opening balances after this date fall back to an older closing")
	l.emit(ctx, AuditEvent{Action: AuditClosingDeleted, Table: TableClosings, RecordID: string(removed.ID), Actor: actor, Before: removed})
	return nil
}

func (l *Ledger) GetClosing(ctx context.Context, id ClosingID) (*Closing, error) {
	c, err := l.store.GetClosing(ctx, id)
	if err != nil {
		return nil, storeErr("get closing", err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClosingNotFound, id)
	}
	return c, nil
}

func (l *Ledger) ListClosings(ctx context.Context, f ClosingFilter) ([]Closing, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, &ValidationError{Field: "to", Message: "end before start", Err: ErrInvalidDateRange}
	}
	cs, err := l.store.ListClosings(ctx, f)
	return cs, storeErr("list closings", err)
}

// PendingClosings lists every closing waiting for an approver.
func (l *Ledger) PendingClosings(ctx context.Context) ([]Closing, error) {
	return l.ListClosings(ctx, ClosingFilter{Status: ClosingPendingApproval})
}

// =============================================================================
// OPENING BALANCE
// =============================================================================

type OpeningSource string

const (
	OpeningFromClosing  OpeningSource = "closing"
	OpeningFromFallback OpeningSource = "fallback_closing"
	OpeningNone         OpeningSource = "none"
)

// Opening is the balance a register starts a day with, and where it came from.
type Opening struct {
	Register       RegisterID
	Date           Date
	Amount         Money
	Source         OpeningSource
	Closing        *Closing
	NoPriorClosing bool
	Warnings       []string
}

// OpeningBalance returns the opening balance of register on date.
func (l *Ledger) OpeningBalance(ctx context.Context, register RegisterID, date Date) (*Opening, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "date is required"}
	}
	if _, err := l.GetRegister(ctx, register); err != nil {
		return nil, err
	}
	op, err := l.openingBalance(ctx, l.store, register, date)
	if err != nil {
		return nil, storeErr("opening balance", err)
	}
	return op, nil
}

func (l *Ledger) openingBalance(ctx context.Context, s Store, register RegisterID, date Date) (*Opening, error) {
	op := &Opening{Register: register, Date: date, Amount: Zero()}

	c, err := s.LatestApprovedClosingBefore(ctx, register, date)
	if err != nil {
		return nil, err
	}
	if c == nil {
		op.Source = OpeningNone
		op.NoPriorClosing = true
		op.Warnings = append(op.Warnings, fmt.Sprintf("no approved closing before %s; opening at 0.00", date))
		l.log.Warn().Str("register_id", string(register)).Str("date", date.String()).Msg("no prior closing")
		return op, nil
	}

	op.Closing = c
	op.Amount = c.SystemAmount
	if c.Date == date.AddDays(-1) {
		op.Source = OpeningFromClosing
		return op, nil
	}

	// The chain has a gap: replay what happened between the older closing
	// and the requested day.
	op.Source = OpeningFromFallback
	gap, err := s.ListMovements(ctx, MovementFilter{
		Register: register,
		From:     l.cal.StartOf(c.Date.AddDays(1)),
		To:       l.cal.StartOf(date).Add(-time.Nanosecond),
	})
	if err != nil {
		return nil, err
	}
	replay := Reconstruct(register, c.SystemAmount, gap)
	op.Amount = replay.ClosingBalance
	op.Warnings = append(op.Warnings, fmt.Sprintf(
		"missing approved closing for %s; using closing of %s plus %d movement(s)",
		date.AddDays(-1), c.Date, len(replay.Rows)))
	for _, a := range replay.Anomalies {
		op.Warnings = append(op.Warnings, a.Message)
		l.reportAnomaly(register, a, "opening balance")
	}
	l.log.Warn().
		Str("register_id", string(register)).
		Str("date", date.String()).
		Str("fallback_closing_date", c.Date.String()).
		Int("replayed", len(replay.Rows)).
		Msg("opening balance uses fallback closing")
	return op, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) closingDate(d Date) (Date, error) {
	today := l.Today()
	if d.IsZero() {
		return today, nil
	}
	if d.After(today) {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("%s is in the future", d), Err: ErrFutureDate}
	}
	return d, nil
}

// balanceAtEndOf is the live balance minus the effects of movements that
// happened after date. reg must come from GetRegisterForUpdate on s.
func (l *Ledger) balanceAtEndOf(ctx context.Context, s Store, reg Register, date Date) (Money, error) {
	later, err := s.ListMovements(ctx, MovementFilter{Register: reg.ID, From: l.cal.StartOf(date.AddDays(1))})
	if err != nil {
		return Money{}, err
	}
	balance := reg.Balance
	for _, m := range later {
		e, ok, err := Classify(m, reg.ID)
		if err != nil {
			l.reportAnomaly(reg.ID, Anomaly{MovementID: m.ID, Kind: m.Kind, Message: err.Error()}, "closing system amount")
			continue
		}
		if !ok {
			continue
		}
		balance = balance.Sub(e.Delta())
	}
	return balance, nil
}

func (l *Ledger) closingRecorded(ctx context.Context, c Closing) {
	ev := l.log.Info()
	if c.Status == ClosingPendingApproval {
		ev = l.log.Warn()
	}
	ev.Str("closing_id", string(c.ID)).
		Str("register_id", string(c.RegisterID)).
		Str("date", c.Date.String()).
		Str("system_amount", c.SystemAmount.String()).
		Str("counted_amount", c.CountedAmount.String()).
		Str("variance", c.Variance.String()).
		Str("variance_class", string(c.VarianceClass)).
		Str("status", string(c.Status)).
		Bool("manual", c.Manual).
		Str("actor", c.CreatedBy).
		Msg("closing recorded")
	l.obs.ClosingRecorded(c.Status, c.VarianceClass)
	l.emit(ctx, AuditEvent{Action: AuditClosingCreated, Table: TableClosings, RecordID: string(c.ID), Actor: c.CreatedBy, After: c})
}
