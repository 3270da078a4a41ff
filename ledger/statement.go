/*
statement.go - Extrato (statement) reconstruction

A statement replays the Movement Classifier over the live movements of a
date range, starting from the opening balance:

	running = opening
	for each movement touching the register, oldest first:
	    running += classified delta

Movements that are not applicable to the register are left out entirely,
so the other leg of a transfer never shows up as a zero row. Movements of
an unknown kind are reported as anomalies and excluded from the totals;
reconstruction never fails because of them.
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
)

type StatementRow struct {
	Movement       Movement
	Direction      Direction
	Amount         Money
	Label          string
	RunningBalance Money
}

// Anomaly is a movement the classifier could not interpret.
type Anomaly struct {
	MovementID MovementID
	Kind       MovementKind
	Message    string
}

// Replay is the pure result of running a set of movements over an opening
// balance for one register.
type Replay struct {
	Rows           []StatementRow
	TotalCredits   Money
	TotalDebits    Money
	ClosingBalance Money
	Anomalies      []Anomaly
}

// Reconstruct replays movements for register starting from opening, in
// OccurredAt order and then insertion order. The input slice is not
// modified. Deleted movements are skipped.
func Reconstruct(register RegisterID, opening Money, movements []Movement) Replay {
	ordered := make([]Movement, len(movements))
	copy(ordered, movements)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].OccurredAt.Equal(ordered[j].OccurredAt) {
			return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	r := Replay{TotalCredits: Zero(), TotalDebits: Zero(), ClosingBalance: opening}
	for _, m := range ordered {
		if m.IsDeleted() {
			continue
		}
		e, ok, err := Classify(m, register)
		if err != nil {
			r.Anomalies = append(r.Anomalies, Anomaly{
				MovementID: m.ID,
				Kind:       m.Kind,
				Message:    fmt.Sprintf("movement %s has unknown kind %q; excluded from totals", m.ID, m.Kind),
			})
			continue
		}
		if !ok {
			continue
		}
		if e.Direction == Credit {
			r.TotalCredits = r.TotalCredits.Add(e.Amount)
		} else {
			r.TotalDebits = r.TotalDebits.Add(e.Amount)
		}
		r.ClosingBalance = r.ClosingBalance.Add(e.Delta())
		r.Rows = append(r.Rows, StatementRow{
			Movement:       m,
			Direction:      e.Direction,
			Amount:         e.Amount,
			Label:          Label(m.Kind, e.Direction),
			RunningBalance: r.ClosingBalance,
		})
	}
	return r
}

type Statement struct {
	Register       Register
	From           Date
	To             Date
	Opening        Opening
	OpeningBalance Money
	Rows           []StatementRow
	TotalCredits   Money
	TotalDebits    Money
	ClosingBalance Money
	Anomalies      []Anomaly
}

// BuildStatement reconstructs the extrato of register for [from, to].
func (l *Ledger) BuildStatement(ctx context.Context, register RegisterID, from, to Date) (*Statement, error) {
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "from", Message: "from and to are required", Err: ErrInvalidDateRange}
	}
	if to.Before(from) {
		return nil, &ValidationError{Field: "to", Message: "end before start", Err: ErrInvalidDateRange}
	}
	reg, err := l.GetRegister(ctx, register)
	if err != nil {
		return nil, err
	}

	opening, err := l.openingBalance(ctx, l.store, register, from)
	if err != nil {
		return nil, storeErr("opening balance", err)
	}
	movements, err := l.store.ListMovements(ctx, MovementFilter{
		Register: register,
		From:     l.cal.StartOf(from),
		To:       l.cal.EndOf(to),
	})
	if err != nil {
		return nil, storeErr("list movements", err)
	}

	replay := Reconstruct(register, opening.Amount, movements)
	for _, a := range replay.Anomalies {
		l.reportAnomaly(register, a, "statement")
	}

	return &Statement{
		Register:       *reg,
		From:           from,
		To:             to,
		Opening:        *opening,
		OpeningBalance: opening.Amount,
		Rows:           replay.Rows,
		TotalCredits:   replay.TotalCredits,
		TotalDebits:    replay.TotalDebits,
		ClosingBalance: replay.ClosingBalance,
		Anomalies:      replay.Anomalies,
	}, nil
}

// reportAnomaly logs a movement the classifier rejected while replaying for
// register and counts it.
func (l *Ledger) reportAnomaly(register RegisterID, a Anomaly, during string) {
	l.log.Warn().
		Str("register_id", string(register)).
		Str("movement_id", string(a.MovementID)).
		Str("kind", string(a.Kind)).
		Str("during", during).
		Msg("movement taxonomy anomaly")
	l.obs.StatementAnomaly(a.Kind)
}
