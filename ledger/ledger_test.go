package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crescieperdi/caixa/ledger"
	"github.com/crescieperdi/caixa/ledger/store"
	"github.com/crescieperdi/caixa/store/sqlstore"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var saoPaulo = time.FixedZone("BRT", -3*60*60)

func money(s string) ledger.Money { return ledger.MustMoney(s) }

type recordingSink struct {
	mu     sync.Mutex
	events []ledger.AuditEvent
}

func (r *recordingSink) Emit(_ context.Context, ev ledger.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) actions() []ledger.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.AuditAction, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store ledger.TxStore
	l     *ledger.Ledger
	audit *recordingSink
	now   time.Time
}

// newHarness builds a ledger on an in-memory store with a fixed clock at
// 2025-03-10 15:00 local time.
func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, store.NewMemory())
}

func newHarnessWithStore(t *testing.T, s ledger.TxStore) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: s,
		audit: &recordingSink{},
		now:   time.Date(2025, time.March, 10, 15, 0, 0, 0, saoPaulo),
	}
	var seq int
	var mu sync.Mutex
	h.l = ledger.New(s,
		ledger.WithCalendar(ledger.NewCalendar(saoPaulo)),
		ledger.WithClock(func() time.Time { return h.now }),
		ledger.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%04d", seq)
		}),
		ledger.WithAuditSink(h.audit),
	)
	return h
}

func (h *harness) register(name string) *ledger.Register {
	h.t.Helper()
	r, err := h.l.CreateRegister(h.ctx, name, "admin")
	require.NoError(h.t, err)
	return r
}

func (h *harness) balance(id ledger.RegisterID) string {
	h.t.Helper()
	b, err := h.l.Balance(h.ctx, id)
	require.NoError(h.t, err)
	return b.String()
}

func (h *harness) credit(id ledger.RegisterID, amount string, at time.Time) *ledger.Movement {
	h.t.Helper()
	m, err := h.l.RecordMovement(h.ctx, ledger.MovementInput{
		Kind:        ledger.KindManualCredit,
		Amount:      money(amount),
		Destination: id,
		Reason:      "suprimento inicial",
		OccurredAt:  at,
		Actor:       "ana",
	})
	require.NoError(h.t, err)
	return m
}

func today() ledger.Date { return ledger.NewDate(2025, time.March, 10) }

// flakyStore fails AdjustBalance once more than okAdjusts calls have
// succeeded inside transactions.
type flakyStore struct {
	*store.Memory
	mu        sync.Mutex
	okAdjusts int
	calls     int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&flakyView{Store: s, parent: f})
	})
}

type flakyView struct {
	ledger.Store
	parent *flakyStore
}

func (v *flakyView) AdjustBalance(ctx context.Context, id ledger.RegisterID, delta ledger.Money) (ledger.Money, error) {
	v.parent.mu.Lock()
	v.parent.calls++
	fail := v.parent.calls > v.parent.okAdjusts
	v.parent.mu.Unlock()
	if fail {
		return ledger.Money{}, errors.New("connection reset by peer")
	}
	return v.Store.AdjustBalance(ctx, id, delta)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_StraightforwardDay(t *testing.T) {
	// GIVEN: Caixa 1 opens at 0.00
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	assert.Equal(t, "0.00", h.balance(c1.ID))

	// WHEN: a cash sale of 150.00 is posted and the register is counted at 150.00
	res, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "venda-1", Register: "Caixa 1", Amount: money("150"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)
	require.NotNil(t, res.Movement)
	assert.Empty(t, res.Warning)
	assert.Equal(t, c1.ID, res.Movement.Destination)

	closing, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("150"), Actor: "ana"})
	require.NoError(t, err)

	// THEN: variance is zero and the closing is approved without justification
	assert.Equal(t, "0.00", closing.Variance.String())
	assert.Equal(t, ledger.ClosingApproved, closing.Status)
	assert.False(t, closing.RequiresReview)
	assert.Equal(t, today(), closing.Date)
	assert.Equal(t, "150.00", closing.SystemAmount.String())
}

func TestScenario_ShortageRequiringApproval(t *testing.T) {
	// GIVEN: Caixa 1 with 150.00 of sales
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	_, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "venda-1", Register: "Caixa 1", Amount: money("150"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)

	// WHEN: counted 145.00 without justification
	_, err = h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("145"), Actor: "ana"})

	// THEN: creation is rejected
	require.ErrorIs(t, err, ledger.ErrJustificationRequired)
	assert.True(t, ledger.IsValidation(err))

	// WHEN: counted 145.00 with a justification
	closing, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("145"), Justification: "troco errado", Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "-5.00", closing.Variance.String())
	assert.Equal(t, ledger.ClosingPendingApproval, closing.Status)
	assert.True(t, closing.RequiresReview)
	assert.Equal(t, ledger.VarianceWarning, closing.VarianceClass)

	// AND: the approver rejects it
	rejected, err := h.l.RejectClosing(h.ctx, closing.ID, "gerente", "recontagem necessária")
	require.NoError(t, err)
	assert.Equal(t, ledger.ClosingRejected, rejected.Status)
	assert.Equal(t, "recontagem necessária", rejected.RejectionReason)
	assert.Equal(t, "gerente", rejected.DecidedBy)

	// THEN: it cannot be decided again, and a fresh closing can be created
	_, err = h.l.ApproveClosing(h.ctx, closing.ID, "gerente", "")
	assert.ErrorIs(t, err, ledger.ErrClosingNotPending)

	redo, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("150"), Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, ledger.ClosingApproved, redo.Status)

	// Live balance was never touched by the workflow.
	assert.Equal(t, "150.00", h.balance(c1.ID))
}

func TestScenario_TransferThenStatement(t *testing.T) {
	// GIVEN: Caixa 1 closed yesterday at 200.00, Caixa 2 at 0.00
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	c2 := h.register("Caixa 2")
	yesterday := today().AddDays(-1)
	h.credit(c1.ID, "200", time.Date(2025, time.March, 9, 10, 0, 0, 0, saoPaulo))
	_, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: yesterday, Counted: money("200"), Actor: "ana"})
	require.NoError(t, err)

	// WHEN: 50.00 is transferred from Caixa 1 to Caixa 2
	res, err := h.l.Transfer(h.ctx, ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("50"), Reason: "sangria", Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "150.00", res.OriginBalance.String())
	assert.Equal(t, "50.00", res.DestinationBalance.String())

	// THEN: Caixa 1 shows one debit row, Caixa 2 one credit row
	s1, err := h.l.BuildStatement(h.ctx, c1.ID, today(), today())
	require.NoError(t, err)
	require.Len(t, s1.Rows, 1)
	assert.Equal(t, ledger.Debit, s1.Rows[0].Direction)
	assert.Equal(t, "50.00", s1.Rows[0].Amount.String())
	assert.Equal(t, "Transferência enviada", s1.Rows[0].Label)
	assert.Equal(t, ledger.OpeningFromClosing, s1.Opening.Source)
	assert.Equal(t, "200.00", s1.OpeningBalance.String())
	assert.Equal(t, "150.00", s1.ClosingBalance.String())
	assert.Equal(t, "0.00", s1.TotalCredits.String())

	s2, err := h.l.BuildStatement(h.ctx, c2.ID, today(), today())
	require.NoError(t, err)
	require.Len(t, s2.Rows, 1)
	assert.Equal(t, ledger.Credit, s2.Rows[0].Direction)
	assert.Equal(t, "Transferência recebida", s2.Rows[0].Label)
	assert.True(t, s2.Opening.NoPriorClosing)
	assert.Equal(t, "50.00", s2.ClosingBalance.String())
	assert.Equal(t, h.balance(c2.ID), s2.ClosingBalance.String())

	assert.Contains(t, h.audit.actions(), ledger.AuditTransferExecuted)
}

func TestScenario_EvaluationPayoutInCash(t *testing.T) {
	// GIVEN: the evaluation register with 100.00 and a sales register
	h := newHarness(t)
	aval := h.register(ledger.DefaultEvaluationRegister)
	c1 := h.register("Caixa 1")
	h.credit(aval.ID, "100", time.Time{})
	h.credit(c1.ID, "20", time.Time{})

	// WHEN: an evaluation is settled with 30.00 in cash
	res, err := h.l.PostEvaluationPayout(h.ctx, ledger.EvaluationPayout{EvaluationID: "aval-7", Amount: money("30"), Method: ledger.MethodCash, Actor: "bia"})
	require.NoError(t, err)

	// THEN: one payout movement from Avaliação, no other register affected
	require.NotNil(t, res.Movement)
	assert.Equal(t, ledger.KindEvaluationPayout, res.Movement.Kind)
	assert.Equal(t, aval.ID, res.Movement.Origin)
	assert.Empty(t, res.Movement.Destination)
	assert.Equal(t, "30.00", res.Movement.Amount.String())
	assert.Equal(t, ledger.Reference{Type: ledger.RefEvaluation, ID: "aval-7"}, res.Movement.Reference)
	assert.Equal(t, "70.00", h.balance(aval.ID))
	assert.Equal(t, "20.00", h.balance(c1.ID))
	require.NotNil(t, res.Posting)
	assert.Equal(t, ledger.PostingApplied, res.Posting.Status)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestBalanceConservation(t *testing.T) {
	h := newHarness(t)
	aval := h.register(ledger.DefaultEvaluationRegister)
	c1 := h.register("Caixa 1")
	c2 := h.register("Caixa 2")

	// external: +500 +80 +40.10 -30 -12.5 = 577.60
	h.credit(c1.ID, "500", time.Time{})
	_, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "s1", Register: "Caixa 2", Amount: money("80"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)
	h.credit(aval.ID, "40.10", time.Time{})
	_, err = h.l.PostEvaluationPayout(h.ctx, ledger.EvaluationPayout{EvaluationID: "e1", Amount: money("30"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)
	_, err = h.l.RecordManualWithdrawal(h.ctx, c2.ID, money("12.5"), "compra de sacolas", "ana")
	require.NoError(t, err)

	// internal transfers only move money around
	for i, tr := range []ledger.TransferInput{
		{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("100")},
		{Origin: "Caixa 2", Destination: ledger.DefaultEvaluationRegister, Amount: money("33.33")},
		{Origin: ledger.DefaultEvaluationRegister, Destination: "Caixa 1", Amount: money("0.01")},
	} {
		tr.Actor = "ana"
		_, err := h.l.Transfer(h.ctx, tr)
		require.NoError(t, err, "transfer %d", i)
	}

	regs, err := h.l.ListRegisters(h.ctx)
	require.NoError(t, err)
	total := ledger.Zero()
	for _, r := range regs {
		total = total.Add(r.Balance)
	}
	assert.Equal(t, "577.60", total.String())
}

func TestReversalExactness_AllKinds(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	c2 := h.register("Caixa 2")
	h.credit(c1.ID, "100", time.Time{})

	inputs := []ledger.MovementInput{
		{Kind: ledger.KindSale, Amount: money("15.55"), Destination: c1.ID, Reference: ledger.Reference{Type: ledger.RefSale, ID: "s9"}},
		{Kind: ledger.KindEvaluationPayout, Amount: money("7.25"), Origin: c1.ID, Reference: ledger.Reference{Type: ledger.RefEvaluation, ID: "e9"}},
		{Kind: ledger.KindManualCredit, Amount: money("3"), Destination: c2.ID},
		{Kind: ledger.KindManualDebit, Amount: money("4"), Origin: c1.ID},
		{Kind: ledger.KindTransfer, Amount: money("60"), Origin: c1.ID, Destination: c2.ID},
	}
	for _, in := range inputs {
		t.Run(string(in.Kind), func(t *testing.T) {
			before1, before2 := h.balance(c1.ID), h.balance(c2.ID)

			in.Actor = "ana"
			m, err := h.l.RecordMovement(h.ctx, in)
			require.NoError(t, err)

			deleted, err := h.l.DeleteMovement(h.ctx, m.ID, "gerente", "lançamento errado")
			require.NoError(t, err)
			assert.True(t, deleted.IsDeleted())
			assert.Equal(t, "gerente", deleted.DeletedBy)

			assert.Equal(t, before1, h.balance(c1.ID))
			assert.Equal(t, before2, h.balance(c2.ID))

			_, err = h.l.DeleteMovement(h.ctx, m.ID, "gerente", "de novo")
			assert.ErrorIs(t, err, ledger.ErrMovementDeleted)
			assert.True(t, ledger.IsConflict(err))
		})
	}
}

func TestDeletedMovementsLeaveStatements(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	m := h.credit(c1.ID, "10", time.Time{})
	h.credit(c1.ID, "5", time.Time{})

	_, err := h.l.DeleteMovement(h.ctx, m.ID, "gerente", "duplicado")
	require.NoError(t, err)

	s, err := h.l.BuildStatement(h.ctx, c1.ID, today(), today())
	require.NoError(t, err)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, "5.00", s.ClosingBalance.String())

	all, err := h.l.ListMovements(h.ctx, ledger.MovementFilter{Register: c1.ID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTransferAtomicity_RollsBackBothSides(t *testing.T) {
	// GIVEN: a store whose second balance write in a transaction fails
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, okAdjusts: 1}
	h := newHarnessWithStore(t, flaky)
	c1 := h.register("Caixa 1")
	h.register("Caixa 2")
	_, err := mem.AdjustBalance(h.ctx, c1.ID, money("200"))
	require.NoError(t, err)

	// WHEN: transferring
	_, err = h.l.Transfer(h.ctx, ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("50"), Actor: "ana"})

	// THEN: retryable persistence error, nothing applied
	require.Error(t, err)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, "200.00", h.balance(c1.ID))

	movements, err := h.l.ListMovements(h.ctx, ledger.MovementFilter{Register: c1.ID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, movements)
	assert.NotContains(t, h.audit.actions(), ledger.AuditTransferExecuted)
}

func TestTransfer_Validation(t *testing.T) {
	h := newHarness(t)
	h.register("Caixa 1")
	h.register("Caixa 2")

	tests := []struct {
		name string
		in   ledger.TransferInput
		want error
	}{
		{"same register", ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 1", Amount: money("1"), Actor: "ana"}, ledger.ErrSameRegister},
		{"zero amount", ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Actor: "ana"}, ledger.ErrInvalidAmount},
		{"negative amount", ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("-3"), Actor: "ana"}, ledger.ErrInvalidAmount},
		{"unknown origin", ledger.TransferInput{Origin: "Caixa 9", Destination: "Caixa 2", Amount: money("1"), Actor: "ana"}, ledger.ErrRegisterNotFound},
		{"unknown destination", ledger.TransferInput{Origin: "Caixa 1", Destination: "Cofre", Amount: money("1"), Actor: "ana"}, ledger.ErrRegisterNotFound},
		{"no actor", ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("1")}, ledger.ErrActorRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.l.Transfer(h.ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ledger.IsValidation(err))
		})
	}

	all, err := h.l.ListMovements(h.ctx, ledger.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAmountLimit(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.register("Caixa 2")
	huge := money("184467440737095517.16")

	_, err := h.l.RecordManualEntry(h.ctx, c1.ID, huge, "suprimento", "ana")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAmountTooLarge)
	assert.True(t, ledger.IsValidation(err))

	_, err = h.l.Transfer(h.ctx, ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: huge, Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrAmountTooLarge)

	_, err = h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: huge, Method: ledger.MethodCash, Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrAmountTooLarge)

	_, err = h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: today(), Counted: huge, Justification: "contagem", Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrAmountTooLarge)

	assert.Equal(t, "0.00", h.balance(c1.ID))

	// The bound itself is accepted.
	_, err = h.l.RecordManualEntry(h.ctx, c1.ID, ledger.MaxAmount, "suprimento", "ana")
	require.NoError(t, err)
	assert.Equal(t, ledger.MaxAmount.String(), h.balance(c1.ID))
}

func TestRecordMovement_UnknownRegisterIsValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.l.RecordManualEntry(h.ctx, "nope", money("1"), "x", "ana")
	assert.True(t, ledger.IsValidation(err))
	assert.ErrorIs(t, err, ledger.ErrRegisterNotFound)
}

func TestRecordMovement_ActorRequired(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	_, err := h.l.RecordManualEntry(h.ctx, c1.ID, money("1"), "x", " ")
	assert.ErrorIs(t, err, ledger.ErrActorRequired)
}

func TestStatement_Deterministic(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	c2 := h.register("Caixa 2")
	h.credit(c1.ID, "80", time.Date(2025, time.March, 8, 9, 0, 0, 0, saoPaulo))
	h.credit(c1.ID, "20", time.Date(2025, time.March, 9, 9, 0, 0, 0, saoPaulo))
	_, err := h.l.Transfer(h.ctx, ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("30"), Actor: "ana"})
	require.NoError(t, err)
	_, err = h.l.RecordManualWithdrawal(h.ctx, c2.ID, money("5"), "lanche", "ana")
	require.NoError(t, err)

	from, to := ledger.NewDate(2025, time.March, 8), today()
	a, err := h.l.BuildStatement(h.ctx, c1.ID, from, to)
	require.NoError(t, err)
	b, err := h.l.BuildStatement(h.ctx, c1.ID, from, to)
	require.NoError(t, err)

	assert.Equal(t, "70.00", a.ClosingBalance.String())
	assert.True(t, a.ClosingBalance.Equal(b.ClosingBalance))
	assert.True(t, a.OpeningBalance.Add(a.TotalCredits).Sub(a.TotalDebits).Equal(a.ClosingBalance))
}

func TestStatement_SameInstantFollowsRecordingOrder(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) ledger.TxStore
	}{
		{"memory", func(*testing.T) ledger.TxStore { return store.NewMemory() }},
		{"sqlite", func(t *testing.T) ledger.TxStore {
			s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}

	for _, st := range stores {
		t.Run(st.name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2025, time.March, 10, 15, 0, 0, 0, saoPaulo)

			// Random IDs and a frozen clock: only recording order separates the two movements.
			for i := 0; i < 25; i++ {
				l := ledger.New(st.open(t),
					ledger.WithCalendar(ledger.NewCalendar(saoPaulo)),
					ledger.WithClock(func() time.Time { return now }),
				)
				c1, err := l.CreateRegister(ctx, "Caixa 1", "admin")
				require.NoError(t, err)
				_, err = l.CreateRegister(ctx, "Caixa 2", "admin")
				require.NoError(t, err)

				_, err = l.RecordManualEntry(ctx, c1.ID, money("200"), "suprimento", "ana")
				require.NoError(t, err)
				_, err = l.Transfer(ctx, ledger.TransferInput{Origin: "Caixa 1", Destination: "Caixa 2", Amount: money("50"), Actor: "ana"})
				require.NoError(t, err)

				stmt, err := l.BuildStatement(ctx, c1.ID, today(), today())
				require.NoError(t, err)
				require.Len(t, stmt.Rows, 2)
				assert.Equal(t, ledger.Credit, stmt.Rows[0].Direction)
				assert.Equal(t, "200.00", stmt.Rows[0].RunningBalance.String())
				assert.Equal(t, ledger.Debit, stmt.Rows[1].Direction)
				assert.Equal(t, "150.00", stmt.Rows[1].RunningBalance.String())
			}
		})
	}
}

func TestStatement_InvalidRange(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	_, err := h.l.BuildStatement(h.ctx, c1.ID, today(), today().AddDays(-1))
	assert.ErrorIs(t, err, ledger.ErrInvalidDateRange)

	_, err = h.l.BuildStatement(h.ctx, "missing", today(), today())
	assert.ErrorIs(t, err, ledger.ErrRegisterNotFound)
}

// =============================================================================
// CLOSING WORKFLOW
// =============================================================================

type anomalyObserver struct {
	mu    sync.Mutex
	kinds []ledger.MovementKind
}

func (o *anomalyObserver) MovementRecorded(ledger.MovementKind, ledger.Money)         {}
func (o *anomalyObserver) MovementReversed(ledger.MovementKind, ledger.Money)         {}
func (o *anomalyObserver) TransferExecuted(ledger.Money)                              {}
func (o *anomalyObserver) ClosingRecorded(ledger.ClosingStatus, ledger.VarianceClass) {}
func (o *anomalyObserver) ClosingDecided(ledger.ClosingStatus)                        {}
func (o *anomalyObserver) PostingFailed(ledger.MovementKind)                          {}

func (o *anomalyObserver) StatementAnomaly(kind ledger.MovementKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func TestClosing_PastDateReportsUnknownKinds(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "100", time.Date(2025, time.March, 9, 10, 0, 0, 0, saoPaulo))
	require.NoError(t, h.store.InsertMovement(h.ctx, ledger.Movement{ID: "legacy-1", Kind: "refund", Amount: money("9"), Destination: c1.ID, OccurredAt: h.now}))

	var logs bytes.Buffer
	obs := &anomalyObserver{}
	l := ledger.New(h.store,
		ledger.WithCalendar(ledger.NewCalendar(saoPaulo)),
		ledger.WithClock(func() time.Time { return h.now }),
		ledger.WithLogger(zerolog.New(&logs)),
		ledger.WithObserver(obs),
	)

	c, err := l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: today().AddDays(-1), Counted: money("100"), Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "100.00", c.SystemAmount.String())

	assert.Equal(t, []ledger.MovementKind{"refund"}, obs.kinds)
	assert.Contains(t, logs.String(), "movement taxonomy anomaly")
	assert.Contains(t, logs.String(), `"movement_id":"legacy-1"`)
	assert.Contains(t, logs.String(), `"during":"closing system amount"`)
}

func TestClosing_ApproveKeepsLiveBalance(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "100", time.Time{})

	c, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("110"), Justification: "venda não lançada", Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, ledger.VarianceCritical, c.VarianceClass)

	approved, err := h.l.ApproveClosing(h.ctx, c.ID, "gerente", "ok")
	require.NoError(t, err)
	assert.Equal(t, ledger.ClosingApproved, approved.Status)
	assert.False(t, approved.RequiresReview)
	require.NotNil(t, approved.DecidedAt)
	assert.Equal(t, "100.00", h.balance(c1.ID))

	// Next day opens from the recorded system amount, not the counted cash.
	op, err := h.l.OpeningBalance(h.ctx, c1.ID, today().AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, ledger.OpeningFromClosing, op.Source)
	assert.Equal(t, "100.00", op.Amount.String())

	pending, err := h.l.PendingClosings(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClosing_ConcurrentDecisionsHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "100", time.Time{})
	c, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("99"), Justification: "moeda perdida", Actor: "ana"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 0 {
				_, errs[i] = h.l.ApproveClosing(h.ctx, c.ID, "gerente-a", "")
			} else {
				_, errs[i] = h.l.RejectClosing(h.ctx, c.ID, "gerente-b", "recontar")
			}
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if ledger.IsConflict(err) {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestClosing_OnePerRegisterAndDay(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	_, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("0"), Actor: "ana"})
	require.NoError(t, err)

	_, err = h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("0"), Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrClosingExists)
	assert.True(t, ledger.IsConflict(err))
}

func TestClosing_RejectRequiresReason(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	c, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("3"), Justification: "achado", Actor: "ana"})
	require.NoError(t, err)

	_, err = h.l.RejectClosing(h.ctx, c.ID, "gerente", "  ")
	assert.ErrorIs(t, err, ledger.ErrRejectionReasonRequired)

	_, err = h.l.ApproveClosing(h.ctx, "missing", "gerente", "")
	assert.ErrorIs(t, err, ledger.ErrClosingNotFound)
}

func TestClosing_FutureDateRejected(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	_, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: today().AddDays(1), Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrFutureDate)
}

func TestClosing_PastDateUsesBalanceAtEndOfDay(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "40", time.Date(2025, time.March, 8, 11, 0, 0, 0, saoPaulo))
	h.credit(c1.ID, "25", time.Date(2025, time.March, 9, 11, 0, 0, 0, saoPaulo))

	c, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: ledger.NewDate(2025, time.March, 8), Counted: money("40"), Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "40.00", c.SystemAmount.String())
	assert.Equal(t, ledger.ClosingApproved, c.Status)
}

// readCommittedStore lets one concurrent writer commit between two reads
// of the same transaction, the way READ COMMITTED does, unless the
// transaction locked the register first; then the writer waits for it.
type readCommittedStore struct {
	*store.Memory
	mu     sync.Mutex
	writer func(ctx context.Context, s ledger.Store) error
}

func (r *readCommittedStore) takeWriter() func(ctx context.Context, s ledger.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.writer
	r.writer = nil
	return w
}

func (r *readCommittedStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	v := &readCommittedView{parent: r}
	err := r.Memory.WithTx(ctx, func(s ledger.Store) error {
		v.Store = s
		return fn(v)
	})
	if v.locked {
		if w := r.takeWriter(); w != nil {
			if werr := r.Memory.WithTx(ctx, func(s ledger.Store) error { return w(ctx, s) }); werr != nil {
				return werr
			}
		}
	}
	return err
}

type readCommittedView struct {
	ledger.Store
	parent *readCommittedStore
	locked bool
}

func (v *readCommittedView) GetRegisterForUpdate(ctx context.Context, id ledger.RegisterID) (*ledger.Register, error) {
	v.locked = true
	return v.Store.GetRegisterForUpdate(ctx, id)
}

func (v *readCommittedView) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	if !v.locked {
		if w := v.parent.takeWriter(); w != nil {
			if err := w(ctx, v.Store); err != nil {
				return nil, err
			}
		}
	}
	return v.Store.ListMovements(ctx, f)
}

func TestClosing_PastDateIgnoresSaleCommittedMidClose(t *testing.T) {
	rc := &readCommittedStore{Memory: store.NewMemory()}
	h := newHarnessWithStore(t, rc)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "40", time.Date(2025, time.March, 9, 11, 0, 0, 0, saoPaulo))

	// Another terminal sells 10.00 today while yesterday is being closed.
	rc.writer = func(ctx context.Context, s ledger.Store) error {
		if err := s.InsertMovement(ctx, ledger.Movement{
			ID: "terminal-2-sale", Kind: ledger.KindSale, Amount: money("10"), Destination: c1.ID,
			Reference: ledger.Reference{Type: ledger.RefSale, ID: "venda-77"}, OccurredAt: h.now, CreatedBy: "bia",
		}); err != nil {
			return err
		}
		_, err := s.AdjustBalance(ctx, c1.ID, money("10"))
		return err
	}

	c, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: ledger.NewDate(2025, time.March, 9), Counted: money("40"), Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "40.00", c.SystemAmount.String())
	assert.Equal(t, "0.00", c.Variance.String())
	assert.Equal(t, ledger.ClosingApproved, c.Status)

	assert.Nil(t, rc.takeWriter(), "the concurrent sale committed")
	assert.Equal(t, "50.00", h.balance(c1.ID))
}

func TestManualClosing_AutoApproved(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	day := ledger.NewDate(2025, time.March, 5)

	c, err := h.l.CreateManualClosing(h.ctx, ledger.ManualClosingInput{Register: c1.ID, Date: day, Counted: money("80"), Actor: "gerente"})
	require.NoError(t, err)
	assert.True(t, c.Manual)
	assert.Equal(t, ledger.ClosingApproved, c.Status)
	assert.Equal(t, "80.00", c.SystemAmount.String())
	assert.Equal(t, "0.00", c.Variance.String())

	_, err = h.l.CreateManualClosing(h.ctx, ledger.ManualClosingInput{Register: c1.ID, Date: day, Counted: money("81"), Actor: "gerente"})
	assert.ErrorIs(t, err, ledger.ErrClosingExists)

	_, err = h.l.CreateManualClosing(h.ctx, ledger.ManualClosingInput{Register: c1.ID, Counted: money("1"), Actor: "gerente"})
	assert.True(t, ledger.IsValidation(err))
}

func TestOpeningBalance_FallbackAndDeletion(t *testing.T) {
	// GIVEN: an approved closing on the 7th and movements on the 8th and 9th
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "100", time.Date(2025, time.March, 7, 10, 0, 0, 0, saoPaulo))
	h.credit(c1.ID, "20", time.Date(2025, time.March, 8, 10, 0, 0, 0, saoPaulo))
	h.credit(c1.ID, "5", time.Date(2025, time.March, 9, 23, 59, 0, 0, saoPaulo))
	closing, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Date: ledger.NewDate(2025, time.March, 7), Counted: money("100"), Actor: "ana"})
	require.NoError(t, err)
	require.Equal(t, "100.00", closing.SystemAmount.String())

	// WHEN/THEN: the 8th opens straight from the closing
	op, err := h.l.OpeningBalance(h.ctx, c1.ID, ledger.NewDate(2025, time.March, 8))
	require.NoError(t, err)
	assert.Equal(t, ledger.OpeningFromClosing, op.Source)
	assert.Equal(t, "100.00", op.Amount.String())
	assert.Empty(t, op.Warnings)

	// WHEN/THEN: the 10th falls back to the 7th and replays the gap
	op, err = h.l.OpeningBalance(h.ctx, c1.ID, today())
	require.NoError(t, err)
	assert.Equal(t, ledger.OpeningFromFallback, op.Source)
	assert.Equal(t, "125.00", op.Amount.String())
	assert.NotEmpty(t, op.Warnings)
	require.NotNil(t, op.Closing)
	assert.Equal(t, closing.ID, op.Closing.ID)

	// WHEN: the closing is deleted
	require.NoError(t, h.l.DeleteClosing(h.ctx, closing.ID, "gerente"))

	// THEN: no prior closing, zero with a flag; balances untouched
	op, err = h.l.OpeningBalance(h.ctx, c1.ID, today())
	require.NoError(t, err)
	assert.Equal(t, ledger.OpeningNone, op.Source)
	assert.True(t, op.NoPriorClosing)
	assert.True(t, op.Amount.IsZero())
	assert.Equal(t, "125.00", h.balance(c1.ID))
	assert.Contains(t, h.audit.actions(), ledger.AuditClosingDeleted)
}

// =============================================================================
// POSTINGS
// =============================================================================

func TestPosting_FailureIsKeptForRetry(t *testing.T) {
	// GIVEN: no evaluation register exists yet
	h := newHarness(t)

	// WHEN: an evaluation is paid in cash
	res, err := h.l.PostEvaluationPayout(h.ctx, ledger.EvaluationPayout{EvaluationID: "aval-1", Amount: money("30"), Method: ledger.MethodCash, Actor: "bia"})

	// THEN: the primary action is not failed; a warning and a failed posting remain
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)
	assert.Nil(t, res.Movement)
	require.NotNil(t, res.Posting)
	assert.Equal(t, ledger.PostingFailed, res.Posting.Status)
	assert.Contains(t, res.Posting.LastError, "unknown register")

	failed, err := h.l.ListPostings(h.ctx, ledger.PostingFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// WHEN: the register is created and the posting retried
	aval := h.register(ledger.DefaultEvaluationRegister)
	retried, err := h.l.RetryPosting(h.ctx, res.Posting.ID, "gerente")
	require.NoError(t, err)
	require.NotNil(t, retried.Movement)
	assert.Equal(t, ledger.PostingApplied, retried.Posting.Status)
	assert.Equal(t, 2, retried.Posting.Attempts)
	assert.Equal(t, "-30.00", h.balance(aval.ID))

	// THEN: retrying again is a conflict
	_, err = h.l.RetryPosting(h.ctx, res.Posting.ID, "gerente")
	assert.ErrorIs(t, err, ledger.ErrPostingApplied)

	failed, err = h.l.ListPostings(h.ctx, ledger.PostingFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestPosting_RetryFailsAgain(t *testing.T) {
	h := newHarness(t)
	res, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa X", Amount: money("10"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)
	require.NotNil(t, res.Posting)

	again, err := h.l.RetryPosting(h.ctx, res.Posting.ID, "ana")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrRegisterNotFound)
	require.NotNil(t, again)
	require.NotNil(t, again.Posting)
	assert.Equal(t, 2, again.Posting.Attempts)

	stored, err := h.l.GetPosting(h.ctx, res.Posting.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PostingFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestPosting_DuplicateReferenceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	in := ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: money("10"), Method: ledger.MethodCash, Actor: "ana"}

	first, err := h.l.PostSale(h.ctx, in)
	require.NoError(t, err)
	second, err := h.l.PostSale(h.ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Movement.ID, second.Movement.ID)
	assert.Empty(t, second.Warning)
	assert.Equal(t, "10.00", h.balance(c1.ID))
}

func TestPosting_NonCashIsSkipped(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	res, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v2", Register: "Caixa 1", Amount: money("10"), Method: ledger.MethodPix, Actor: "ana"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "0.00", h.balance(c1.ID))
}

func TestPosting_Validation(t *testing.T) {
	h := newHarness(t)
	h.register("Caixa 1")

	_, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v3", Register: "Caixa 1", Amount: money("0"), Method: ledger.MethodCash, Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v3", Register: "Caixa 1", Amount: money("1"), Method: "dinheiro", Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrUnknownPaymentMethod)

	_, err = h.l.PostEvaluationPayout(h.ctx, ledger.EvaluationPayout{Amount: money("1"), Method: ledger.MethodCash, Actor: "ana"})
	assert.ErrorIs(t, err, ledger.ErrMissingReference)
}

func TestReverseReference_UndoesSale(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	_, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: money("42"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)

	ref := ledger.Reference{Type: ledger.RefSale, ID: "v1"}
	m, err := h.l.ReverseReference(h.ctx, ref, "gerente", "venda cancelada")
	require.NoError(t, err)
	assert.True(t, m.IsDeleted())
	assert.Equal(t, "0.00", h.balance(c1.ID))

	_, err = h.l.ReverseReference(h.ctx, ref, "gerente", "de novo")
	assert.ErrorIs(t, err, ledger.ErrMovementNotFound)

	// The reference is free again once its movement is gone.
	_, err = h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: money("40"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)
	assert.Equal(t, "40.00", h.balance(c1.ID))
}

func TestReverse_UnknownKindIsConflict(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.credit(c1.ID, "20", time.Time{})
	require.NoError(t, h.store.InsertMovement(h.ctx, ledger.Movement{
		ID: "legacy-1", Kind: "refund", Amount: money("9"), Destination: c1.ID,
		Reference: ledger.Reference{Type: ledger.RefSale, ID: "v-legacy"}, OccurredAt: h.now, CreatedBy: "ana",
	}))

	_, err := h.l.DeleteMovement(h.ctx, "legacy-1", "gerente", "estorno")
	assert.ErrorIs(t, err, ledger.ErrUnknownMovementKind)
	assert.True(t, ledger.IsConflict(err))
	assert.False(t, ledger.IsRetryable(err))

	_, err = h.l.ReverseReference(h.ctx, ledger.Reference{Type: ledger.RefSale, ID: "v-legacy"}, "gerente", "estorno")
	assert.ErrorIs(t, err, ledger.ErrUnknownMovementKind)
	assert.True(t, ledger.IsConflict(err))

	m, err := h.l.GetMovement(h.ctx, "legacy-1")
	require.NoError(t, err)
	assert.False(t, m.IsDeleted())
	assert.Equal(t, "20.00", h.balance(c1.ID))
}

func TestPosting_ConflictingDuplicateIsRejected(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	h.register("Caixa 2")
	first, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: money("10"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)

	for _, in := range []ledger.SalePosting{
		{SaleID: "v1", Register: "Caixa 1", Amount: money("12"), Method: ledger.MethodCash, Actor: "ana"},
		{SaleID: "v1", Register: "Caixa 2", Amount: money("10"), Method: ledger.MethodCash, Actor: "ana"},
	} {
		res, err := h.l.PostSale(h.ctx, in)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ledger.ErrDuplicateReference)
		assert.True(t, ledger.IsConflict(err))
		assert.Contains(t, err.Error(), string(first.Movement.ID))
	}

	assert.Equal(t, "10.00", h.balance(c1.ID))
	failed, err := h.l.ListPostings(h.ctx, ledger.PostingFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestPosting_RetryAgainstConflictingMovementStaysFailed(t *testing.T) {
	h := newHarness(t)
	res, err := h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: money("10"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)
	require.NotNil(t, res.Posting)
	require.Equal(t, ledger.PostingFailed, res.Posting.Status)

	c1 := h.register("Caixa 1")
	_, err = h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 1", Amount: money("15"), Method: ledger.MethodCash, Actor: "bia"})
	require.NoError(t, err)

	_, err = h.l.RetryPosting(h.ctx, res.Posting.ID, "gerente")
	assert.ErrorIs(t, err, ledger.ErrDuplicateReference)

	stored, err := h.l.GetPosting(h.ctx, res.Posting.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PostingFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, "15.00", h.balance(c1.ID))
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

func TestDiagnostics(t *testing.T) {
	h := newHarness(t)
	c1 := h.register("Caixa 1")
	c2 := h.register("Caixa 2")
	_, err := h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c1.ID, Counted: money("0"), Actor: "ana"})
	require.NoError(t, err)
	_, err = h.l.CloseRegister(h.ctx, ledger.CloseInput{Register: c2.ID, Counted: money("1"), Justification: "achado", Actor: "ana"})
	require.NoError(t, err)
	_, err = h.l.PostSale(h.ctx, ledger.SalePosting{SaleID: "v1", Register: "Caixa 9", Amount: money("10"), Method: ledger.MethodCash, Actor: "ana"})
	require.NoError(t, err)

	d, err := h.l.Diagnostics(h.ctx, today())
	require.NoError(t, err)
	require.Len(t, d.MissingClosings, 1)
	assert.Equal(t, c2.ID, d.MissingClosings[0].ID)
	assert.Len(t, d.PendingClosings, 1)
	assert.Len(t, d.FailedPostings, 1)
	assert.Empty(t, d.UnknownKinds)

	require.NoError(t, h.store.InsertMovement(h.ctx, ledger.Movement{ID: "legacy-1", Kind: "refund", Amount: money("3"), Destination: c1.ID, OccurredAt: h.now}))
	d, err = h.l.Diagnostics(h.ctx, today())
	require.NoError(t, err)
	require.Len(t, d.UnknownKinds, 1)
	assert.Equal(t, ledger.MovementID("legacy-1"), d.UnknownKinds[0].MovementID)
	assert.Equal(t, ledger.MovementKind("refund"), d.UnknownKinds[0].Kind)

	d, err = h.l.Diagnostics(h.ctx, today().AddDays(-1))
	require.NoError(t, err)
	assert.Empty(t, d.UnknownKinds, "other days are not scanned")
}

func TestRegisters(t *testing.T) {
	h := newHarness(t)
	r := h.register("Caixa 1")

	_, err := h.l.CreateRegister(h.ctx, "Caixa 1", "admin")
	assert.ErrorIs(t, err, ledger.ErrRegisterExists)

	_, err = h.l.CreateRegister(h.ctx, " ", "admin")
	assert.ErrorIs(t, err, ledger.ErrNameRequired)

	byName, err := h.l.RegisterByName(h.ctx, "Caixa 1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byName.ID)

	again, err := h.l.EnsureRegister(h.ctx, "Caixa 1", "admin")
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)

	_, err = h.l.GetRegister(h.ctx, "missing")
	assert.True(t, ledger.IsNotFound(err))

	assert.Equal(t, []ledger.AuditAction{ledger.AuditRegisterCreated}, h.audit.actions())
}
