package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TRANSFER ENGINE - Sangria / suprimento between two registers
// =============================================================================

// TransferInput names both registers by their human names.
type TransferInput struct {
	Origin      string
	Destination string
	Amount      Money
	Reason      string
	OccurredAt  time.Time
	Actor       string
}

type TransferResult struct {
	Movement           Movement
	OriginBalance      Money
	DestinationBalance Money
}

// Transfer moves Amount from Origin to Destination. The movement record and
// both balance changes commit together or not at all.
func (l *Ledger) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if err := requireActor(in.Actor); err != nil {
		return nil, err
	}
	origin, dest := strings.TrimSpace(in.Origin), strings.TrimSpace(in.Destination)
	if origin == "" {
		return nil, &ValidationError{Field: "origin", Message: "origin register is required", Err: ErrInvalidMovement}
	}
	if dest == "" {
		return nil, &ValidationError{Field: "destination", Message: "destination register is required", Err: ErrInvalidMovement}
	}
	if origin == dest {
		return nil, &ValidationError{Field: "destination", Message: "origin and destination must differ", Err: ErrSameRegister}
	}
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero", Err: ErrInvalidAmount}
	}
	if err := checkLimit("amount", in.Amount); err != nil {
		return nil, err
	}

	var result TransferResult
	err := l.store.WithTx(ctx, func(s Store) error {
		from, err := registerByName(ctx, s, "origin", origin)
		if err != nil {
			return err
		}
		to, err := registerByName(ctx, s, "destination", dest)
		if err != nil {
			return err
		}

		m := l.newMovement(MovementInput{
			Kind:        KindTransfer,
			Amount:      in.Amount,
			Origin:      from.ID,
			Destination: to.ID,
			Reason:      in.Reason,
			OccurredAt:  in.OccurredAt,
			Actor:       in.Actor,
		})
		if err := m.validateShape(); err != nil {
			return err
		}
		balances, err := applyTx(ctx, s, m)
		if err != nil {
			return err
		}
		result = TransferResult{
			Movement:           m,
			OriginBalance:      balances[from.ID],
			DestinationBalance: balances[to.ID],
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("transfer", err)
	}

	l.movementRecorded(ctx, result.Movement)
	return &result, nil
}

// registerByName resolves a register name inside a transaction. A missing
// register is a validation error on field.
func registerByName(ctx context.Context, s Store, field, name string) (*Register, error) {
	r, err := s.GetRegisterByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &ValidationError{Field: field, Message: fmt.Sprintf("unknown register %q", name), Err: ErrRegisterNotFound}
	}
	return r, nil
}
