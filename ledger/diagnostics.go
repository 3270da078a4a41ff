package ledger

import "context"

// Diagnostics is the operator follow-up view for one business day.
type Diagnostics struct {
	Date            Date
	MissingClosings []Register // no approved closing for Date
	PendingClosings []Closing
	FailedPostings  []Posting
	UnknownKinds    []Anomaly // live movements on Date with an unrecognized kind
}

// Diagnostics collects what still needs a human for date. It never writes.
func (l *Ledger) Diagnostics(ctx context.Context, date Date) (*Diagnostics, error) {
	if date.IsZero() {
		date = l.Today()
	}
	regs, err := l.store.ListRegisters(ctx)
	if err != nil {
		return nil, storeErr("list registers", err)
	}

	d := &Diagnostics{Date: date}
	for _, r := range regs {
		c, err := l.store.ActiveClosing(ctx, r.ID, date)
		if err != nil {
			return nil, storeErr("active closing", err)
		}
		if c == nil || c.Status != ClosingApproved {
			d.MissingClosings = append(d.MissingClosings, r)
		}
	}

	if d.PendingClosings, err = l.store.ListClosings(ctx, ClosingFilter{Status: ClosingPendingApproval}); err != nil {
		return nil, storeErr("list closings", err)
	}
	if d.FailedPostings, err = l.store.ListPostings(ctx, PostingFailed); err != nil {
		return nil, storeErr("list postings", err)
	}

	day, err := l.store.ListMovements(ctx, MovementFilter{From: l.cal.StartOf(date), To: l.cal.EndOf(date)})
	if err != nil {
		return nil, storeErr("list movements", err)
	}
	for _, m := range day {
		if !m.Kind.Valid() {
			d.UnknownKinds = append(d.UnknownKinds, Anomaly{
				MovementID: m.ID,
				Kind:       m.Kind,
				Message:    (&UnknownKindError{MovementID: m.ID, Kind: m.Kind}).Error(),
			})
		}
	}
	return d, nil
}
