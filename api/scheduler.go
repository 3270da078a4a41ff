/*
scheduler.go - Closing watchdog

PURPOSE:
  Periodically runs ledger diagnostics for the previous business day and
  logs what still needs a human: registers never closed, closings waiting
  for approval, postings waiting for a retry and movements of unknown kind.
  It never writes to the ledger.

CONFIGURATION:
  - CheckInterval: How often to check (WATCHDOG_INTERVAL, default 15m)
  - Enabled: Whether the watchdog is active

USAGE:
  wd := NewClosingWatchdog(l, metrics, logger)
  wd.Start()
  // ... later
  wd.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crescieperdi/caixa/ledger"
)

// DiagnosticsRecorder receives every watchdog result. *metrics.Metrics
// implements it.
type DiagnosticsRecorder interface {
	RecordDiagnostics(d *ledger.Diagnostics)
	WatchdogRun(result string)
}

type ClosingWatchdog struct {
	Ledger        *ledger.Ledger
	Recorder      DiagnosticsRecorder // may be nil
	Log           zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewClosingWatchdog(l *ledger.Ledger, rec DiagnosticsRecorder, log zerolog.Logger) *ClosingWatchdog {
	return &ClosingWatchdog{
		Ledger:        l,
		Recorder:      rec,
		Log:           log.With().Str("component", "watchdog").Logger(),
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
	}
}

// Start begins periodic checks. The first check runs immediately.
func (wd *ClosingWatchdog) Start() {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if !wd.Enabled || wd.CheckInterval <= 0 {
		wd.Log.Info().Msg("watchdog disabled")
		return
	}
	if wd.ticker != nil {
		return
	}

	wd.ticker = time.NewTicker(wd.CheckInterval)
	wd.stop = make(chan struct{})
	wd.wg.Add(1)
	go wd.run(wd.ticker, wd.stop)

	wd.Log.Info().Dur("interval", wd.CheckInterval).Msg("watchdog started")
}

// Stop halts the watchdog and waits for an in-flight check.
func (wd *ClosingWatchdog) Stop() {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	if wd.ticker == nil {
		return
	}
	wd.ticker.Stop()
	close(wd.stop)
	wd.wg.Wait()
	wd.ticker = nil
	wd.Log.Info().Msg("watchdog stopped")
}

func (wd *ClosingWatchdog) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer wd.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	wd.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			wd.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow checks the previous business day once and returns the result.
func (wd *ClosingWatchdog) RunNow(ctx context.Context) (*ledger.Diagnostics, error) {
	date := wd.Ledger.Today().AddDays(-1)

	d, err := wd.Ledger.Diagnostics(ctx, date)
	if err != nil {
		wd.Log.Error().Err(err).Str("date", date.String()).Msg("diagnostics failed")
		wd.record(nil, "error")
		return nil, err
	}

	for _, r := range d.MissingClosings {
		wd.Log.Warn().
			Str("register_id", string(r.ID)).
			Str("register", r.Name).
			Str("date", date.String()).
			Msg("register has no approved closing")
	}
	for _, c := range d.PendingClosings {
		wd.Log.Warn().
			Str("closing_id", string(c.ID)).
			Str("register_id", string(c.RegisterID)).
			Str("date", c.Date.String()).
			Str("variance", c.Variance.String()).
			Msg("closing waiting for approval")
	}
	for _, p := range d.FailedPostings {
		wd.Log.Warn().
			Str("posting_id", string(p.ID)).
			Str("reference", p.Reference.String()).
			Int("attempts", p.Attempts).
			Str("last_error", p.LastError).
			Msg("posting waiting for retry")
	}
	for _, a := range d.UnknownKinds {
		wd.Log.Warn().
			Str("movement_id", string(a.MovementID)).
			Str("kind", string(a.Kind)).
			Str("date", date.String()).
			Msg("movement with unknown kind")
	}

	wd.record(d, "ok")
	return d, nil
}

func (wd *ClosingWatchdog) record(d *ledger.Diagnostics, result string) {
	if wd.Recorder == nil {
		return
	}
	if d != nil {
		wd.Recorder.RecordDiagnostics(d)
	}
	wd.Recorder.WatchdogRun(result)
}
