/*
store.go - Persistence contract for the cash ledger

PURPOSE:
  The ledger owns the business rules; the Store owns durability. The Store
  is expected to be shared by many terminals at once, so the contract puts
  every read-modify-write behind a primitive the database executes
  atomically:

  - AdjustBalance is a single "balance = balance + delta" statement, never
    a read in Go followed by a write
  - MarkMovementDeleted and DecideClosing are conditional updates; losing a
    race surfaces as ErrMovementDeleted / ErrConcurrentModification
  - InsertClosing relies on a unique index over (register, date) for
    non-rejected closings
  - InsertMovement relies on a unique index over live business references

TRANSACTIONS:
  TxStore.WithTx runs fn against a transactional view. If fn returns an
  error everything fn wrote is rolled back, so a movement and its balance
  changes are visible together or not at all.

LOOKUPS:
  Get and Find methods return (nil, nil) when nothing matches.

LOCKING:
  A read of a balance followed by a read of movements sees one consistent
  state only if the register is read with GetRegisterForUpdate: at READ
  COMMITTED a write committed between the two statements would otherwise
  show up in the second read but not the first.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and demos
  - store/sqlstore:         SQLite and PostgreSQL via sqlx
*/
package ledger

import (
	"context"
	"time"
)

// Store persists registers, movements, closings and postings.
type Store interface {
	CreateRegister(ctx context.Context, r Register) error
	GetRegister(ctx context.Context, id RegisterID) (*Register, error)
	// GetRegisterForUpdate reads the register and, inside a transaction,
	// holds writers to its balance off until the transaction ends.
	GetRegisterForUpdate(ctx context.Context, id RegisterID) (*Register, error)
	GetRegisterByName(ctx context.Context, name string) (*Register, error)
	ListRegisters(ctx context.Context) ([]Register, error)

	// AdjustBalance atomically adds delta to the register balance and
	// returns the new balance. Returns ErrRegisterNotFound if missing.
	AdjustBalance(ctx context.Context, id RegisterID, delta Money) (Money, error)

	// InsertMovement returns ErrDuplicateReference when a live movement
	// already carries the same business reference.
	InsertMovement(ctx context.Context, m Movement) error
	GetMovement(ctx context.Context, id MovementID) (*Movement, error)
	// FindMovementByReference returns the live movement for ref.
	FindMovementByReference(ctx context.Context, ref Reference) (*Movement, error)
	// MarkMovementDeleted soft-deletes a live movement. Returns
	// ErrMovementDeleted if it was already deleted.
	MarkMovementDeleted(ctx context.Context, id MovementID, actor, reason string, at time.Time) error
	// ListMovements returns matching movements ordered by OccurredAt, ID.
	ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error)

	// InsertClosing returns ErrClosingExists if a non-rejected closing
	// exists for the same register and date.
	InsertClosing(ctx context.Context, c Closing) error
	GetClosing(ctx context.Context, id ClosingID) (*Closing, error)
	// ActiveClosing returns the non-rejected closing for register+date.
	ActiveClosing(ctx context.Context, register RegisterID, date Date) (*Closing, error)
	// LatestApprovedClosingBefore returns the approved closing with the
	// greatest date strictly before date.
	LatestApprovedClosingBefore(ctx context.Context, register RegisterID, date Date) (*Closing, error)
	ListClosings(ctx context.Context, f ClosingFilter) ([]Closing, error)
	// DecideClosing writes the decision fields of c, only if the stored
	// closing is still pending. Returns ErrConcurrentModification otherwise.
	DecideClosing(ctx context.Context, c Closing) error
	DeleteClosing(ctx context.Context, id ClosingID) error

	// SavePosting inserts or replaces a posting by ID.
	SavePosting(ctx context.Context, p Posting) error
	GetPosting(ctx context.Context, id PostingID) (*Posting, error)
	// ListPostings returns postings with status, newest first; empty
	// status returns all.
	ListPostings(ctx context.Context, status PostingStatus) ([]Posting, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter clears every table. Used by demo scenarios only.
type Resetter interface {
	Reset(ctx context.Context) error
}
