/*
posting.go - Ledger writes requested by business actions

A finalized sale paid in cash credits its register; an evaluation settled in
cash debits the evaluation register. The business action itself (the sale,
the evaluation) belongs to another system and has already happened when it
asks for a posting, so a failed ledger write must never be reported as a
failure of that action:

  - invalid input (amount, method, missing business id) is an error
  - a failed ledger write is kept as a Posting with status "failed" and the
    error text, and the caller gets a warning; RetryPosting re-runs it
  - a reference that already has a live movement is an idempotent success

Non-cash methods do not move any register and are skipped.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SalePosting struct {
	SaleID     string
	Register   string // register name
	Amount     Money
	Method     PaymentMethod
	OccurredAt time.Time
	Actor      string
}

type EvaluationPayout struct {
	EvaluationID string
	Amount       Money
	Method       PaymentMethod
	OccurredAt   time.Time
	Actor        string
}

type PostingResult struct {
	Movement *Movement
	Posting  *Posting
	Warning  string
	Skipped  bool // payment method does not touch the ledger
}

// PostSale records the cash of a finalized sale on its register.
func (l *Ledger) PostSale(ctx context.Context, in SalePosting) (*PostingResult, error) {
	if err := validatePosting(in.Actor, in.SaleID, "sale_id", in.Amount, in.Method); err != nil {
		return nil, err
	}
	if !in.Method.IsCash() {
		return &PostingResult{Skipped: true}, nil
	}
	if strings.TrimSpace(in.Register) == "" {
		return nil, &ValidationError{Field: "register", Message: "register is required for cash sales", Err: ErrInvalidMovement}
	}
	return l.submit(ctx, l.newPosting(KindSale, Reference{Type: RefSale, ID: strings.TrimSpace(in.SaleID)},
		strings.TrimSpace(in.Register), in.Amount, in.Method, in.OccurredAt, in.Actor))
}

// PostEvaluationPayout records cash paid out for an evaluated lot against the
// evaluation register.
func (l *Ledger) PostEvaluationPayout(ctx context.Context, in EvaluationPayout) (*PostingResult, error) {
	if err := validatePosting(in.Actor, in.EvaluationID, "evaluation_id", in.Amount, in.Method); err != nil {
		return nil, err
	}
	if !in.Method.IsCash() {
		return &PostingResult{Skipped: true}, nil
	}
	return l.submit(ctx, l.newPosting(KindEvaluationPayout, Reference{Type: RefEvaluation, ID: strings.TrimSpace(in.EvaluationID)},
		l.evalRegister, in.Amount, in.Method, in.OccurredAt, in.Actor))
}

// RetryPosting re-runs one failed posting. When the retry fails again the
// posting stays failed with the new error, which is also returned.
func (l *Ledger) RetryPosting(ctx context.Context, id PostingID, actor string) (*PostingResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	p, err := l.store.GetPosting(ctx, id)
	if err != nil {
		return nil, storeErr("get posting", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPostingNotFound, id)
	}
	if p.Status == PostingApplied {
		return nil, fmt.Errorf("%w: %s", ErrPostingApplied, id)
	}

	p.Attempts++
	m, err := l.attempt(ctx, p, actor)
	switch {
	case err == nil:
		l.log.Info().Str("posting_id", string(p.ID)).Int("attempts", p.Attempts).Msg("posting retried")
		l.movementRecorded(ctx, *m)
		l.emit(ctx, AuditEvent{Action: AuditPostingRetried, Table: TablePostings, RecordID: string(p.ID), Actor: actor, After: *p})
		return &PostingResult{Movement: m, Posting: p}, nil
	case errors.Is(err, ErrDuplicateReference):
		return l.adoptExisting(ctx, p, actor)
	}

	res := l.recordFailure(ctx, *p, err)
	return res, storeErr("retry posting", err)
}

func (l *Ledger) GetPosting(ctx context.Context, id PostingID) (*Posting, error) {
	p, err := l.store.GetPosting(ctx, id)
	if err != nil {
		return nil, storeErr("get posting", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPostingNotFound, id)
	}
	return p, nil
}

// ListPostings returns postings with status; empty status lists all.
func (l *Ledger) ListPostings(ctx context.Context, status PostingStatus) ([]Posting, error) {
	ps, err := l.store.ListPostings(ctx, status)
	return ps, storeErr("list postings", err)
}

// =============================================================================
// INTERNALS
// =============================================================================

func validatePosting(actor, businessID, field string, amount Money, method PaymentMethod) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if strings.TrimSpace(businessID) == "" {
		return &ValidationError{Field: field, Message: "business record id is required", Err: ErrMissingReference}
	}
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero", Err: ErrInvalidAmount}
	}
	if err := checkLimit("amount", amount); err != nil {
		return err
	}
	if !method.Valid() {
		return &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", method), Err: ErrUnknownPaymentMethod}
	}
	return nil
}

func (l *Ledger) newPosting(kind MovementKind, ref Reference, register string, amount Money, method PaymentMethod, at time.Time, actor string) Posting {
	now := l.now().UTC()
	if at.IsZero() {
		at = now
	}
	return Posting{
		ID:           PostingID(l.newID()),
		Kind:         kind,
		Reference:    ref,
		RegisterName: register,
		Amount:       amount,
		Method:       method,
		OccurredAt:   at.UTC(),
		Attempts:     1,
		CreatedBy:    actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (l *Ledger) submit(ctx context.Context, p Posting) (*PostingResult, error) {
	m, err := l.attempt(ctx, &p, p.CreatedBy)
	if err == nil {
		l.movementRecorded(ctx, *m)
		return &PostingResult{Movement: m, Posting: &p}, nil
	}
	if errors.Is(err, ErrDuplicateReference) {
		existing, ferr := l.store.FindMovementByReference(ctx, p.Reference)
		if ferr == nil && existing != nil {
			same, merr := l.matchesPosting(ctx, *existing, p)
			switch {
			case merr == nil && !same:
				return nil, l.conflictingPosting(p, *existing)
			case merr == nil:
				l.log.Info().Str("reference", p.Reference.String()).Str("movement_id", string(existing.ID)).Msg("posting already applied")
				return &PostingResult{Movement: existing}, nil
			}
		}
	}
	return l.recordFailure(ctx, p, err), nil
}

// matchesPosting reports whether m is the movement p would have written.
func (l *Ledger) matchesPosting(ctx context.Context, m Movement, p Posting) (bool, error) {
	if m.Kind != p.Kind || !m.Amount.Equal(p.Amount) {
		return false, nil
	}
	reg, err := l.store.GetRegisterByName(ctx, p.RegisterName)
	if err != nil || reg == nil {
		return false, err
	}
	if p.Kind == KindSale {
		return m.Destination == reg.ID, nil
	}
	return m.Origin == reg.ID, nil
}

// conflictingPosting is the error for a posting whose reference is already
// recorded with another amount or register.
func (l *Ledger) conflictingPosting(p Posting, existing Movement) error {
	l.log.Warn().
		Str("reference", p.Reference.String()).
		Str("movement_id", string(existing.ID)).
		Str("recorded_amount", existing.Amount.String()).
		Str("amount", p.Amount.String()).
		Str("register", p.RegisterName).
		Msg("posting conflicts with recorded movement")
	return fmt.Errorf("%w: %s is already recorded as movement %s of %s; reverse it before posting %s on %q",
		ErrDuplicateReference, p.Reference, existing.ID, existing.Amount, p.Amount, p.RegisterName)
}

// attempt writes the movement for p and marks p applied, in one transaction.
func (l *Ledger) attempt(ctx context.Context, p *Posting, actor string) (*Movement, error) {
	var m Movement
	now := l.now().UTC()
	applied := *p
	err := l.store.WithTx(ctx, func(s Store) error {
		reg, err := registerByName(ctx, s, "register", p.RegisterName)
		if err != nil {
			return err
		}
		in := MovementInput{
			Kind:       p.Kind,
			Amount:     p.Amount,
			Reason:     fmt.Sprintf("%s %s", p.Reference.Type, p.Reference.ID),
			Reference:  p.Reference,
			OccurredAt: p.OccurredAt,
			Actor:      actor,
		}
		if p.Kind == KindSale {
			in.Destination = reg.ID
		} else {
			in.Origin = reg.ID
		}
		m = l.newMovement(in)
		if err := m.validateShape(); err != nil {
			return err
		}
		if _, err := applyTx(ctx, s, m); err != nil {
			return err
		}
		applied.Status = PostingApplied
		applied.MovementID = m.ID
		applied.LastError = ""
		applied.UpdatedAt = now
		return s.SavePosting(ctx, applied)
	})
	if err != nil {
		return nil, err
	}
	*p = applied
	return &m, nil
}

// adoptExisting marks p applied against a movement that already carries its
// reference.
func (l *Ledger) adoptExisting(ctx context.Context, p *Posting, actor string) (*PostingResult, error) {
	existing, err := l.store.FindMovementByReference(ctx, p.Reference)
	if err != nil {
		return nil, storeErr("find movement", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentModification, p.Reference)
	}
	same, err := l.matchesPosting(ctx, *existing, *p)
	if err != nil {
		return nil, storeErr("find register", err)
	}
	if !same {
		cerr := l.conflictingPosting(*p, *existing)
		return l.recordFailure(ctx, *p, cerr), cerr
	}
	p.Status = PostingApplied
	p.MovementID = existing.ID
	p.LastError = ""
	p.UpdatedAt = l.now().UTC()
	if err := l.store.SavePosting(ctx, *p); err != nil {
		return nil, storeErr("save posting", err)
	}
	l.emit(ctx, AuditEvent{Action: AuditPostingRetried, Table: TablePostings, RecordID: string(p.ID), Actor: actor, After: *p})
	return &PostingResult{Movement: existing, Posting: p}, nil
}

// recordFailure keeps p as a failed posting for follow-up. It never fails:
// a posting that cannot be saved is logged and reported in the warning.
func (l *Ledger) recordFailure(ctx context.Context, p Posting, cause error) *PostingResult {
	p.Status = PostingFailed
	p.MovementID = ""
	p.LastError = cause.Error()
	p.UpdatedAt = l.now().UTC()

	warning := fmt.Sprintf("%s %s: cash movement on %q was not recorded (%v); retry posting %s",
		p.Reference.Type, p.Reference.ID, p.RegisterName, cause, p.ID)
	l.obs.PostingFailed(p.Kind)

	if err := l.store.SavePosting(ctx, p); err != nil {
		l.log.Error().Err(err).Str("reference", p.Reference.String()).Str("cause", cause.Error()).Msg("failed posting could not be saved")
		return &PostingResult{Warning: warning + "; the follow-up record could not be saved"}
	}

	l.log.Warn().
		Str("posting_id", string(p.ID)).
		Str("reference", p.Reference.String()).
		Str("register", p.RegisterName).
		Str("amount", p.Amount.String()).
		Int("attempts", p.Attempts).
		Err(cause).
		Msg("posting failed")
	l.emit(ctx, AuditEvent{
		Action:   AuditPostingFailed,
		Table:    TablePostings,
		RecordID: string(p.ID),
		Actor:    p.CreatedBy,
		After:    p,
		Details:  map[string]any{"error": p.LastError},
	})
	return &PostingResult{Posting: &p, Warning: warning}
}
