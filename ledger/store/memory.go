// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/crescieperdi/caixa/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory enforces the same constraints as the SQL store: unique register
// names, one live movement per business reference, one non-rejected closing
// per register and day.
type Memory struct {
	mu sync.RWMutex
	d  *tables
}

var (
	_ ledger.TxStore  = (*Memory)(nil)
	_ ledger.Resetter = (*Memory)(nil)
	_ ledger.Store    = (*tables)(nil)
)

func NewMemory() *Memory {
	return &Memory{d: newTables()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newTables()
	return nil
}

func (m *Memory) read() (*tables, func()) {
	m.mu.RLock()
	return m.d, m.mu.RUnlock
}

func (m *Memory) write() (*tables, func()) {
	m.mu.Lock()
	return m.d, m.mu.Unlock
}

func (m *Memory) CreateRegister(ctx context.Context, r ledger.Register) error {
	d, unlock := m.write()
	defer unlock()
	return d.CreateRegister(ctx, r)
}

func (m *Memory) GetRegister(ctx context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	d, unlock := m.read()
	defer unlock()
	return d.GetRegister(ctx, id)
}

func (m *Memory) GetRegisterForUpdate(ctx context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	d, unlock := m.read()
	defer unlock()
	return d.GetRegisterForUpdate(ctx, id)
}

func (m *Memory) GetRegisterByName(ctx context.Context, name string) (*ledger.Register, error) {
	d, unlock := m.read()
	defer unlock()
	return d.GetRegisterByName(ctx, name)
}

func (m *Memory) ListRegisters(ctx context.Context) ([]ledger.Register, error) {
	d, unlock := m.read()
	defer unlock()
	return d.ListRegisters(ctx)
}

func (m *Memory) AdjustBalance(ctx context.Context, id ledger.RegisterID, delta ledger.Money) (ledger.Money, error) {
	d, unlock := m.write()
	defer unlock()
	return d.AdjustBalance(ctx, id, delta)
}

func (m *Memory) InsertMovement(ctx context.Context, mv ledger.Movement) error {
	d, unlock := m.write()
	defer unlock()
	return d.InsertMovement(ctx, mv)
}

func (m *Memory) GetMovement(ctx context.Context, id ledger.MovementID) (*ledger.Movement, error) {
	d, unlock := m.read()
	defer unlock()
	return d.GetMovement(ctx, id)
}

func (m *Memory) FindMovementByReference(ctx context.Context, ref ledger.Reference) (*ledger.Movement, error) {
	d, unlock := m.read()
	defer unlock()
	return d.FindMovementByReference(ctx, ref)
}

func (m *Memory) MarkMovementDeleted(ctx context.Context, id ledger.MovementID, actor, reason string, at time.Time) error {
	d, unlock := m.write()
	defer unlock()
	return d.MarkMovementDeleted(ctx, id, actor, reason, at)
}

func (m *Memory) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	d, unlock := m.read()
	defer unlock()
	return d.ListMovements(ctx, f)
}

func (m *Memory) InsertClosing(ctx context.Context, c ledger.Closing) error {
	d, unlock := m.write()
	defer unlock()
	return d.InsertClosing(ctx, c)
}

func (m *Memory) GetClosing(ctx context.Context, id ledger.ClosingID) (*ledger.Closing, error) {
	d, unlock := m.read()
	defer unlock()
	return d.GetClosing(ctx, id)
}

func (m *Memory) ActiveClosing(ctx context.Context, register ledger.RegisterID, date ledger.Date) (*ledger.Closing, error) {
	d, unlock := m.read()
	defer unlock()
	return d.ActiveClosing(ctx, register, date)
}

func (m *Memory) LatestApprovedClosingBefore(ctx context.Context, register ledger.RegisterID, date ledger.Date) (*ledger.Closing, error) {
	d, unlock := m.read()
	defer unlock()
	return d.LatestApprovedClosingBefore(ctx, register, date)
}

func (m *Memory) ListClosings(ctx context.Context, f ledger.ClosingFilter) ([]ledger.Closing, error) {
	d, unlock := m.read()
	defer unlock()
	return d.ListClosings(ctx, f)
}

func (m *Memory) DecideClosing(ctx context.Context, c ledger.Closing) error {
	d, unlock := m.write()
	defer unlock()
	return d.DecideClosing(ctx, c)
}

func (m *Memory) DeleteClosing(ctx context.Context, id ledger.ClosingID) error {
	d, unlock := m.write()
	defer unlock()
	return d.DeleteClosing(ctx, id)
}

func (m *Memory) SavePosting(ctx context.Context, p ledger.Posting) error {
	d, unlock := m.write()
	defer unlock()
	return d.SavePosting(ctx, p)
}

func (m *Memory) GetPosting(ctx context.Context, id ledger.PostingID) (*ledger.Posting, error) {
	d, unlock := m.read()
	defer unlock()
	return d.GetPosting(ctx, id)
}

func (m *Memory) ListPostings(ctx context.Context, status ledger.PostingStatus) ([]ledger.Posting, error) {
	d, unlock := m.read()
	defer unlock()
	return d.ListPostings(ctx, status)
}

// =============================================================================
// TABLES - Unlocked state; also the transactional view handed to WithTx
// =============================================================================

type tables struct {
	registers map[ledger.RegisterID]ledger.Register
	movements map[ledger.MovementID]ledger.Movement
	closings  map[ledger.ClosingID]ledger.Closing
	postings  map[ledger.PostingID]ledger.Posting

	lastSeq int64
}

func newTables() *tables {
	return &tables{
		registers: make(map[ledger.RegisterID]ledger.Register),
		movements: make(map[ledger.MovementID]ledger.Movement),
		closings:  make(map[ledger.ClosingID]ledger.Closing),
		postings:  make(map[ledger.PostingID]ledger.Posting),
	}
}

func (d *tables) clone() *tables {
	c := newTables()
	for k, v := range d.registers {
		c.registers[k] = v
	}
	for k, v := range d.movements {
		c.movements[k] = v
	}
	for k, v := range d.closings {
		c.closings[k] = v
	}
	for k, v := range d.postings {
		c.postings[k] = v
	}
	c.lastSeq = d.lastSeq
	return c
}

func (d *tables) CreateRegister(_ context.Context, r ledger.Register) error {
	if _, ok := d.registers[r.ID]; ok {
		return ledger.ErrRegisterExists
	}
	for _, existing := range d.registers {
		if existing.Name == r.Name {
			return ledger.ErrRegisterExists
		}
	}
	d.registers[r.ID] = r
	return nil
}

func (d *tables) GetRegister(_ context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	r, ok := d.registers[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// GetRegisterForUpdate is GetRegister: WithTx already excludes every
// other writer.
func (d *tables) GetRegisterForUpdate(ctx context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	return d.GetRegister(ctx, id)
}

func (d *tables) GetRegisterByName(_ context.Context, name string) (*ledger.Register, error) {
	for _, r := range d.registers {
		if r.Name == name {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (d *tables) ListRegisters(_ context.Context) ([]ledger.Register, error) {
	out := make([]ledger.Register, 0, len(d.registers))
	for _, r := range d.registers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *tables) AdjustBalance(_ context.Context, id ledger.RegisterID, delta ledger.Money) (ledger.Money, error) {
	r, ok := d.registers[id]
	if !ok {
		return ledger.Money{}, ledger.ErrRegisterNotFound
	}
	r.Balance = r.Balance.Add(delta)
	r.UpdatedAt = time.Now().UTC()
	d.registers[id] = r
	return r.Balance, nil
}

func (d *tables) InsertMovement(_ context.Context, m ledger.Movement) error {
	if !m.Reference.IsZero() {
		for _, existing := range d.movements {
			if existing.Reference == m.Reference && !existing.IsDeleted() {
				return ledger.ErrDuplicateReference
			}
		}
	}
	d.lastSeq++
	m.Seq = d.lastSeq
	d.movements[m.ID] = m
	return nil
}

func (d *tables) GetMovement(_ context.Context, id ledger.MovementID) (*ledger.Movement, error) {
	m, ok := d.movements[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (d *tables) FindMovementByReference(_ context.Context, ref ledger.Reference) (*ledger.Movement, error) {
	for _, m := range d.movements {
		if m.Reference == ref && !m.IsDeleted() {
			m := m
			return &m, nil
		}
	}
	return nil, nil
}

func (d *tables) MarkMovementDeleted(_ context.Context, id ledger.MovementID, actor, reason string, at time.Time) error {
	m, ok := d.movements[id]
	if !ok {
		return ledger.ErrMovementNotFound
	}
	if m.IsDeleted() {
		return ledger.ErrMovementDeleted
	}
	at = at.UTC()
	m.DeletedAt = &at
	m.DeletedBy = actor
	m.DeleteReason = reason
	d.movements[id] = m
	return nil
}

func (d *tables) ListMovements(_ context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range d.movements {
		if f.Register != "" && m.Origin != f.Register && m.Destination != f.Register {
			continue
		}
		if !f.From.IsZero() && m.OccurredAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && m.OccurredAt.After(f.To) {
			continue
		}
		if m.IsDeleted() && !f.IncludeDeleted {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (d *tables) InsertClosing(ctx context.Context, c ledger.Closing) error {
	active, _ := d.ActiveClosing(ctx, c.RegisterID, c.Date)
	if active != nil && c.Status != ledger.ClosingRejected {
		return ledger.ErrClosingExists
	}
	d.closings[c.ID] = c
	return nil
}

func (d *tables) GetClosing(_ context.Context, id ledger.ClosingID) (*ledger.Closing, error) {
	c, ok := d.closings[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (d *tables) ActiveClosing(_ context.Context, register ledger.RegisterID, date ledger.Date) (*ledger.Closing, error) {
	for _, c := range d.closings {
		if c.RegisterID == register && c.Date == date && c.Status != ledger.ClosingRejected {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (d *tables) LatestApprovedClosingBefore(_ context.Context, register ledger.RegisterID, date ledger.Date) (*ledger.Closing, error) {
	var best *ledger.Closing
	for _, c := range d.closings {
		if c.RegisterID != register || c.Status != ledger.ClosingApproved || !c.Date.Before(date) {
			continue
		}
		if best == nil || c.Date.After(best.Date) {
			c := c
			best = &c
		}
	}
	return best, nil
}

func (d *tables) ListClosings(_ context.Context, f ledger.ClosingFilter) ([]ledger.Closing, error) {
	var out []ledger.Closing
	for _, c := range d.closings {
		if f.Register != "" && c.RegisterID != f.Register {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && c.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && c.Date.After(f.To) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (d *tables) DecideClosing(_ context.Context, c ledger.Closing) error {
	stored, ok := d.closings[c.ID]
	if !ok {
		return ledger.ErrClosingNotFound
	}
	if stored.Status != ledger.ClosingPendingApproval {
		return ledger.ErrConcurrentModification
	}
	stored.Status = c.Status
	stored.RequiresReview = c.RequiresReview
	stored.ApprovalNote = c.ApprovalNote
	stored.RejectionReason = c.RejectionReason
	stored.DecidedBy = c.DecidedBy
	stored.DecidedAt = c.DecidedAt
	d.closings[c.ID] = stored
	return nil
}

func (d *tables) DeleteClosing(_ context.Context, id ledger.ClosingID) error {
	if _, ok := d.closings[id]; !ok {
		return ledger.ErrClosingNotFound
	}
	delete(d.closings, id)
	return nil
}

func (d *tables) SavePosting(_ context.Context, p ledger.Posting) error {
	d.postings[p.ID] = p
	return nil
}

func (d *tables) GetPosting(_ context.Context, id ledger.PostingID) (*ledger.Posting, error) {
	p, ok := d.postings[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *tables) ListPostings(_ context.Context, status ledger.PostingStatus) ([]ledger.Posting, error) {
	var out []ledger.Posting
	for _, p := range d.postings {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
