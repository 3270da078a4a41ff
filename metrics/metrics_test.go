package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crescieperdi/caixa/ledger"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserverCounters(t *testing.T) {
	m := New()
	m.MovementRecorded(ledger.KindSale, ledger.MustMoney("150"))
	m.MovementRecorded(ledger.KindSale, ledger.MustMoney("0.50"))
	m.TransferExecuted(ledger.MustMoney("50"))
	m.MovementReversed(ledger.KindTransfer, ledger.MustMoney("50"))
	m.ClosingRecorded(ledger.ClosingPendingApproval, ledger.VarianceWarning)
	m.ClosingDecided(ledger.ClosingRejected)
	m.PostingFailed(ledger.KindEvaluationPayout)
	m.StatementAnomaly("refund")

	body := scrape(t, m)
	assert.Contains(t, body, `caixa_movements_total{kind="sale"} 2`)
	assert.Contains(t, body, `caixa_movement_amount_brl_total{kind="sale"} 150.5`)
	assert.Contains(t, body, `caixa_transfers_total 1`)
	assert.Contains(t, body, `caixa_movement_reversals_total{kind="transfer"} 1`)
	assert.Contains(t, body, `caixa_closings_total{status="pending_approval",variance_class="warning"} 1`)
	assert.Contains(t, body, `caixa_closing_decisions_total{status="rejected"} 1`)
	assert.Contains(t, body, `caixa_posting_failures_total{kind="evaluation_payout"} 1`)
	assert.Contains(t, body, `caixa_statement_anomalies_total{kind="refund"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestRecordDiagnostics(t *testing.T) {
	m := New()
	m.RecordDiagnostics(&ledger.Diagnostics{
		MissingClosings: []ledger.Register{{ID: "r1"}, {ID: "r2"}},
		FailedPostings:  []ledger.Posting{{ID: "p1"}},
		UnknownKinds:    []ledger.Anomaly{{MovementID: "m9", Kind: "refund"}},
	})
	m.WatchdogRun("ok")

	body := scrape(t, m)
	assert.Contains(t, body, "caixa_missing_closings 2")
	assert.Contains(t, body, "caixa_pending_closings 0")
	assert.Contains(t, body, "caixa_failed_postings 1")
	assert.Contains(t, body, "caixa_unknown_kind_movements 1")
	assert.Contains(t, body, `caixa_watchdog_runs_total{result="ok"} 1`)
}

func TestNewUsesIsolatedRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
