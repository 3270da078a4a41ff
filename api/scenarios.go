/*
scenarios.go - Demo scenario loaders for testing and demonstrations

AVAILABLE SCENARIOS:

	straightforward-day:  sale of 150.00, closing counted 150.00, auto-approved
	shortage-approval:    closing counted 145.00, rejected for a recount
	transfer-statement:   200.00 in Caixa 1, 50.00 moved to Caixa 2
	evaluation-payout:    30.00 paid in cash from the evaluation register

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Re-create the configured registers
 3. Drive the ledger through its public operations as actor "demo"

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shortage-approval"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/crescieperdi/caixa/ledger"
)

const scenarioActor = "demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, l *ledger.Ledger) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "straightforward-day",
			Name:        "Straightforward Day",
			Description: "One cash sale of 150.00 and a matching closing that approves itself",
		},
		load: loadStraightforwardDay,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "shortage-approval",
			Name:        "Shortage Requiring Approval",
			Description: "Counted 145.00 against 150.00; the supervisor rejects and asks for a recount",
		},
		load: loadShortageApproval,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "transfer-statement",
			Name:        "Transfer Then Statement",
			Description: "Caixa 1 holds 200.00 and sends 50.00 to Caixa 2",
		},
		load: loadTransferStatement,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "evaluation-payout",
			Name:        "Evaluation Payout in Cash",
			Description: "An evaluated lot is paid 30.00 in cash from the evaluation register",
		},
		load: loadEvaluationPayout,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	id := h.currentScenario
	h.mu.Unlock()

	if s, ok := findScenario(id); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeResetError(w, r, err)
		return
	}
	if err := s.load(ctx, h.Ledger); err != nil {
		writeLedgerError(w, r, fmt.Errorf("load scenario %s: %w", s.ID, err))
		return
	}
	h.currentScenario = s.ID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears every table and re-creates the configured registers.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeResetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errResetUnavailable = errors.New("store does not support reset")

func (h *Handler) reset(ctx context.Context) error {
	if h.Resetter == nil {
		return errResetUnavailable
	}
	if err := h.Resetter.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	for _, name := range h.SeedRegisters {
		if _, err := h.Ledger.EnsureRegister(ctx, name, scenarioActor); err != nil {
			return err
		}
	}
	return nil
}

func writeResetError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errResetUnavailable) {
		writeError(w, http.StatusNotImplemented, "Reset is not available", err)
		return
	}
	writeLedgerError(w, r, err)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func ensure(ctx context.Context, l *ledger.Ledger, name string) (*ledger.Register, error) {
	return l.EnsureRegister(ctx, name, scenarioActor)
}

func loadStraightforwardDay(ctx context.Context, l *ledger.Ledger) error {
	caixa, err := ensure(ctx, l, "Caixa 1")
	if err != nil {
		return err
	}
	if _, err := l.PostSale(ctx, ledger.SalePosting{
		SaleID:   "venda-0001",
		Register: caixa.Name,
		Amount:   ledger.MustMoney("150.00"),
		Method:   ledger.MethodCash,
		Actor:    scenarioActor,
	}); err != nil {
		return err
	}
	_, err = l.CloseRegister(ctx, ledger.CloseInput{
		Register: caixa.ID,
		Counted:  ledger.MustMoney("150.00"),
		Actor:    scenarioActor,
	})
	return err
}

func loadShortageApproval(ctx context.Context, l *ledger.Ledger) error {
	caixa, err := ensure(ctx, l, "Caixa 1")
	if err != nil {
		return err
	}
	if _, err := l.PostSale(ctx, ledger.SalePosting{
		SaleID:   "venda-0001",
		Register: caixa.Name,
		Amount:   ledger.MustMoney("150.00"),
		Method:   ledger.MethodCash,
		Actor:    scenarioActor,
	}); err != nil {
		return err
	}
	c, err := l.CloseRegister(ctx, ledger.CloseInput{
		Register:      caixa.ID,
		Counted:       ledger.MustMoney("145.00"),
		Justification: "falta de troco no fim do turno",
		Actor:         scenarioActor,
	})
	if err != nil {
		return err
	}
	_, err = l.RejectClosing(ctx, c.ID, "supervisor", "recontagem necessária")
	return err
}

func loadTransferStatement(ctx context.Context, l *ledger.Ledger) error {
	c1, err := ensure(ctx, l, "Caixa 1")
	if err != nil {
		return err
	}
	c2, err := ensure(ctx, l, "Caixa 2")
	if err != nil {
		return err
	}
	if _, err := l.RecordManualEntry(ctx, c1.ID, ledger.MustMoney("200.00"), "fundo de troco", scenarioActor); err != nil {
		return err
	}
	_, err = l.Transfer(ctx, ledger.TransferInput{
		Origin:      c1.Name,
		Destination: c2.Name,
		Amount:      ledger.MustMoney("50.00"),
		Reason:      "suprimento",
		Actor:       scenarioActor,
	})
	return err
}

func loadEvaluationPayout(ctx context.Context, l *ledger.Ledger) error {
	aval, err := ensure(ctx, l, l.EvaluationRegister())
	if err != nil {
		return err
	}
	if _, err := l.RecordManualEntry(ctx, aval.ID, ledger.MustMoney("100.00"), "fundo de avaliação", scenarioActor); err != nil {
		return err
	}
	_, err = l.PostEvaluationPayout(ctx, ledger.EvaluationPayout{
		EvaluationID: "avaliacao-0001",
		Amount:       ledger.MustMoney("30.00"),
		Method:       ledger.MethodCash,
		Actor:        scenarioActor,
	})
	return err
}
