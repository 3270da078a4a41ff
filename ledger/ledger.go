/*
ledger.go - Cash Ledger service: Balance Store access and Movement Log

PURPOSE:
  Ledger is the only writer of register balances. A movement is accepted in
  one store transaction that:
    1. checks the referenced registers exist
    2. inserts the movement record
    3. applies each classified effect with an atomic balance increment

  Deleting a movement runs the same classifier and applies the exact
  inverse of every effect, again in one transaction.

  No operation reads a balance, computes a new value in Go and writes it
  back. The store does the arithmetic.

ACTORS:
  Every mutating operation takes the acting user explicitly. There is no
  ambient "current register" or "current user".

AFTER COMMIT:
  State changes are logged, counted on the Observer and emitted to the
  AuditSink. None of that can undo the change.

SEE ALSO:
  - classify.go: effects of a movement
  - transfer.go: two-register movements by name
  - closing.go:  fechamento workflow
  - posting.go:  sale / evaluation postings with follow-up on failure
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// OBSERVER - Operational counters (implemented by the metrics package)
// =============================================================================

type Observer interface {
	MovementRecorded(kind MovementKind, amount Money)
	MovementReversed(kind MovementKind, amount Money)
	TransferExecuted(amount Money)
	ClosingRecorded(status ClosingStatus, class VarianceClass)
	ClosingDecided(status ClosingStatus)
	PostingFailed(kind MovementKind)
	StatementAnomaly(kind MovementKind)
}

type noopObserver struct{}

func (noopObserver) MovementRecorded(MovementKind, Money)         {}
func (noopObserver) MovementReversed(MovementKind, Money)         {}
func (noopObserver) TransferExecuted(Money)                       {}
func (noopObserver) ClosingRecorded(ClosingStatus, VarianceClass) {}
func (noopObserver) ClosingDecided(ClosingStatus)                 {}
func (noopObserver) PostingFailed(MovementKind)                   {}
func (noopObserver) StatementAnomaly(MovementKind)                {}

// =============================================================================
// LEDGER
// =============================================================================

// DefaultEvaluationRegister receives evaluation payouts unless configured.
const DefaultEvaluationRegister = "Avaliação"

type Ledger struct {
	store        TxStore
	cal          Calendar
	audit        AuditSink
	obs          Observer
	log          zerolog.Logger
	now          func() time.Time
	newID        func() string
	evalRegister string
}

type Option func(*Ledger)

func WithCalendar(c Calendar) Option       { return func(l *Ledger) { l.cal = c } }
func WithAuditSink(s AuditSink) Option     { return func(l *Ledger) { l.audit = s } }
func WithObserver(o Observer) Option       { return func(l *Ledger) { l.obs = o } }
func WithLogger(log zerolog.Logger) Option { return func(l *Ledger) { l.log = log } }
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}
func WithIDGenerator(fn func() string) Option { return func(l *Ledger) { l.newID = fn } }

// WithEvaluationRegister names the register evaluation payouts draw from.
func WithEvaluationRegister(name string) Option {
	return func(l *Ledger) {
		if strings.TrimSpace(name) != "" {
			l.evalRegister = name
		}
	}
}

func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		cal:          NewCalendar(time.Local),
		obs:          noopObserver{},
		log:          zerolog.Nop(),
		now:          time.Now,
		newID:        uuid.NewString,
		evalRegister: DefaultEvaluationRegister,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.audit == nil {
		l.audit = LogAuditSink{Logger: l.log}
	}
	return l
}

func (l *Ledger) Calendar() Calendar         { return l.cal }
func (l *Ledger) EvaluationRegister() string { return l.evalRegister }

// Today is the current local business day.
func (l *Ledger) Today() Date { return l.cal.DateOf(l.now()) }

func (l *Ledger) emit(ctx context.Context, ev AuditEvent) {
	if ev.At.IsZero() {
		ev.At = l.now()
	}
	if err := l.audit.Emit(ctx, ev); err != nil {
		l.log.Warn().Err(err).Str("audit_action", string(ev.Action)).Str("record_id", ev.RecordID).Msg("audit emission failed")
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Field: "actor", Message: "acting user is required", Err: ErrActorRequired}
	}
	return nil
}

// =============================================================================
// REGISTERS - Balance Store access
// =============================================================================

func (l *Ledger) CreateRegister(ctx context.Context, name, actor string) (*Register, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "register name is required", Err: ErrNameRequired}
	}

	existing, err := l.store.GetRegisterByName(ctx, name)
	if err != nil {
		return nil, storeErr("get register", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrRegisterExists, name)
	}

	now := l.now().UTC()
	r := Register{ID: RegisterID(l.newID()), Name: name, CreatedAt: now, UpdatedAt: now}
	if err := l.store.CreateRegister(ctx, r); err != nil {
		return nil, storeErr("create register", err)
	}

	l.log.Info().Str("register_id", string(r.ID)).Str("register", r.Name).Str("actor", actor).Msg("register created")
	l.emit(ctx, AuditEvent{Action: AuditRegisterCreated, Table: TableRegisters, RecordID: string(r.ID), Actor: actor, After: r})
	return &r, nil
}

// EnsureRegister returns the register named name, creating it when missing.
func (l *Ledger) EnsureRegister(ctx context.Context, name, actor string) (*Register, error) {
	r, err := l.store.GetRegisterByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, storeErr("get register", err)
	}
	if r != nil {
		return r, nil
	}
	return l.CreateRegister(ctx, name, actor)
}

func (l *Ledger) GetRegister(ctx context.Context, id RegisterID) (*Register, error) {
	r, err := l.store.GetRegister(ctx, id)
	if err != nil {
		return nil, storeErr("get register", err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRegisterNotFound, id)
	}
	return r, nil
}

func (l *Ledger) RegisterByName(ctx context.Context, name string) (*Register, error) {
	r, err := l.store.GetRegisterByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, storeErr("get register", err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrRegisterNotFound, name)
	}
	return r, nil
}

func (l *Ledger) ListRegisters(ctx context.Context) ([]Register, error) {
	regs, err := l.store.ListRegisters(ctx)
	return regs, storeErr("list registers", err)
}

// Balance returns the live balance of a register.
func (l *Ledger) Balance(ctx context.Context, id RegisterID) (Money, error) {
	r, err := l.GetRegister(ctx, id)
	if err != nil {
		return Money{}, err
	}
	return r.Balance, nil
}

// =============================================================================
// MOVEMENT LOG
// =============================================================================

// MovementInput is a request to record one movement. OccurredAt defaults to
// now; a past instant records the movement on that business day.
type MovementInput struct {
	Kind        MovementKind
	Amount      Money
	Origin      RegisterID
	Destination RegisterID
	Reason      string
	Reference   Reference
	OccurredAt  time.Time
	Actor       string
}

func (l *Ledger) RecordMovement(ctx context.Context, in MovementInput) (*Movement, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	m := l.newMovement(in)
	if err := m.validateShape(); err != nil {
		return nil, err
	}

	err := l.store.WithTx(ctx, func(s Store) error {
		if err := checkRegisters(ctx, s, m); err != nil {
			return err
		}
		_, err := applyTx(ctx, s, m)
		return err
	})
	if err != nil {
		return nil, storeErr("record movement", err)
	}

	l.movementRecorded(ctx, m)
	return &m, nil
}

// RecordManualEntry records an entrada: a manual credit to register.
func (l *Ledger) RecordManualEntry(ctx context.Context, register RegisterID, amount Money, reason, actor string) (*Movement, error) {
	return l.RecordMovement(ctx, MovementInput{
		Kind:        KindManualCredit,
		Amount:      amount,
		Destination: register,
		Reason:      reason,
		Actor:       actor,
	})
}

// RecordManualWithdrawal records a saida: a manual debit from register.
func (l *Ledger) RecordManualWithdrawal(ctx context.Context, register RegisterID, amount Money, reason, actor string) (*Movement, error) {
	return l.RecordMovement(ctx, MovementInput{
		Kind:   KindManualDebit,
		Amount: amount,
		Origin: register,
		Reason: reason,
		Actor:  actor,
	})
}

// DeleteMovement soft-deletes a movement and reverses its effects.
func (l *Ledger) DeleteMovement(ctx context.Context, id MovementID, actor, reason string) (*Movement, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	at := l.now().UTC()

	var deleted Movement
	err := l.store.WithTx(ctx, func(s Store) error {
		m, err := s.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: %s", ErrMovementNotFound, id)
		}
		if m.IsDeleted() {
			return fmt.Errorf("%w: %s", ErrMovementDeleted, id)
		}
		if err := reverseTx(ctx, s, *m, actor, reason, at); err != nil {
			return err
		}
		deleted = *m
		return nil
	})
	if err != nil {
		return nil, storeErr("delete movement", err)
	}

	markDeleted(&deleted, actor, reason, at)
	l.movementReversed(ctx, deleted)
	return &deleted, nil
}

// ReverseReference deletes the live movement recorded for a business record,
// e.g. when a sale or an evaluation is cancelled.
func (l *Ledger) ReverseReference(ctx context.Context, ref Reference, actor, reason string) (*Movement, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !ref.Type.Valid() || strings.TrimSpace(ref.ID) == "" {
		return nil, &ValidationError{Field: "reference", Message: "reference needs a known type and an id", Err: ErrMissingReference}
	}
	at := l.now().UTC()

	var deleted Movement
	err := l.store.WithTx(ctx, func(s Store) error {
		m, err := s.FindMovementByReference(ctx, ref)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("%w: no live movement for %s", ErrMovementNotFound, ref)
		}
		if err := reverseTx(ctx, s, *m, actor, reason, at); err != nil {
			return err
		}
		deleted = *m
		return nil
	})
	if err != nil {
		return nil, storeErr("reverse reference", err)
	}

	markDeleted(&deleted, actor, reason, at)
	l.movementReversed(ctx, deleted)
	return &deleted, nil
}

func (l *Ledger) GetMovement(ctx context.Context, id MovementID) (*Movement, error) {
	m, err := l.store.GetMovement(ctx, id)
	if err != nil {
		return nil, storeErr("get movement", err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMovementNotFound, id)
	}
	return m, nil
}

func (l *Ledger) ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, &ValidationError{Field: "to", Message: "end before start", Err: ErrInvalidDateRange}
	}
	ms, err := l.store.ListMovements(ctx, f)
	return ms, storeErr("list movements", err)
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Ledger) newMovement(in MovementInput) Movement {
	at := in.OccurredAt
	if at.IsZero() {
		at = l.now()
	}
	return Movement{
		ID:          MovementID(l.newID()),
		Kind:        in.Kind,
		Amount:      in.Amount,
		Origin:      in.Origin,
		Destination: in.Destination,
		Reason:      strings.TrimSpace(in.Reason),
		Reference:   in.Reference,
		OccurredAt:  at.UTC(),
		CreatedBy:   in.Actor,
	}
}

// checkRegisters reports an unknown origin or destination as a validation
// error, before anything is written.
func checkRegisters(ctx context.Context, s Store, m Movement) error {
	for _, side := range []struct {
		field string
		id    RegisterID
	}{{"origin", m.Origin}, {"destination", m.Destination}} {
		if side.id == "" {
			continue
		}
		r, err := s.GetRegister(ctx, side.id)
		if err != nil {
			return err
		}
		if r == nil {
			return &ValidationError{Field: side.field, Message: fmt.Sprintf("unknown register %s", side.id), Err: ErrRegisterNotFound}
		}
	}
	return nil
}

// applyTx inserts m and applies its classified effects through s. It
// returns the resulting balance of every register m touched.
func applyTx(ctx context.Context, s Store, m Movement) (map[RegisterID]Money, error) {
	effects, err := Effects(m)
	if err != nil {
		return nil, err
	}
	if err := s.InsertMovement(ctx, m); err != nil {
		return nil, err
	}
	balances := make(map[RegisterID]Money, len(effects))
	for _, e := range effects {
		b, err := s.AdjustBalance(ctx, e.Register, e.Delta())
		if err != nil {
			return nil, err
		}
		balances[e.Register] = b
	}
	return balances, nil
}

// reverseTx marks m deleted and applies the inverse of each of its effects.
func reverseTx(ctx context.Context, s Store, m Movement, actor, reason string, at time.Time) error {
	effects, err := Effects(m)
	if err != nil {
		return err
	}
	if err := s.MarkMovementDeleted(ctx, m.ID, actor, strings.TrimSpace(reason), at); err != nil {
		return err
	}
	for _, e := range effects {
		if _, err := s.AdjustBalance(ctx, e.Register, e.Reverse().Delta()); err != nil {
			return err
		}
	}
	return nil
}

func markDeleted(m *Movement, actor, reason string, at time.Time) {
	m.DeletedAt = &at
	m.DeletedBy = actor
	m.DeleteReason = strings.TrimSpace(reason)
}

func (l *Ledger) movementRecorded(ctx context.Context, m Movement) {
	l.log.Info().
		Str("movement_id", string(m.ID)).
		Str("kind", string(m.Kind)).
		Str("amount", m.Amount.String()).
		Str("origin", string(m.Origin)).
		Str("destination", string(m.Destination)).
		Str("reference", m.Reference.String()).
		Str("actor", m.CreatedBy).
		Msg("movement recorded")
	l.obs.MovementRecorded(m.Kind, m.Amount)

	action := AuditMovementCreated
	if m.Kind == KindTransfer {
		action = AuditTransferExecuted
		l.obs.TransferExecuted(m.Amount)
	}
	l.emit(ctx, AuditEvent{Action: action, Table: TableMovements, RecordID: string(m.ID), Actor: m.CreatedBy, After: m})
}

func (l *Ledger) movementReversed(ctx context.Context, m Movement) {
	l.log.Info().
		Str("movement_id", string(m.ID)).
		Str("kind", string(m.Kind)).
		Str("amount", m.Amount.String()).
		Str("actor", m.DeletedBy).
		Str("reason", m.DeleteReason).
		Msg("movement deleted and reversed")
	l.obs.MovementReversed(m.Kind, m.Amount)

	before := m
	before.DeletedAt, before.DeletedBy, before.DeleteReason = nil, "", ""
	l.emit(ctx, AuditEvent{
		Action:   AuditMovementDeleted,
		Table:    TableMovements,
		RecordID: string(m.ID),
		Actor:    m.DeletedBy,
		Before:   before,
		After:    m,
		Details:  map[string]any{"reason": m.DeleteReason},
	})
}
