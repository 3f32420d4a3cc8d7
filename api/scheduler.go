/*
scheduler.go - Periodic outstanding-dues sweep

PURPOSE:
  Recomputes every ledger on an interval and publishes the outstanding
  totals as gauges. It also surfaces records that no ledger claimed, so
  someone notices before a patient is billed twice or not at all.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Read-only: nothing is written back to the record store

USAGE:
  sweep := NewOutstandingSweep(svc, metrics, logger)
  sweep.Start()
  // ... later
  sweep.Stop()

SEE ALSO:
  - handlers.go: ListOutstanding, GetDiagnostics (same data on demand)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/patient-ledger/ledger"
	"github.com/warp/patient-ledger/metrics"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Patients   int
	TotalDue   string
	Unmatched  int
	Ambiguous  int
	Duplicates int
	Err        error
}

// OutstandingSweep periodically recomputes outstanding dues.
type OutstandingSweep struct {
	Service       *ledger.Service
	Metrics       *metrics.Collector
	Logger        zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Timeout       time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOutstandingSweep creates a new sweep with an hourly interval.
func NewOutstandingSweep(svc *ledger.Service, m *metrics.Collector, logger zerolog.Logger) *OutstandingSweep {
	return &OutstandingSweep{
		Service:       svc,
		Metrics:       m,
		Logger:        logger.With().Str("component", "sweep").Logger(),
		CheckInterval: time.Hour,
		Enabled:       true,
		Timeout:       time.Minute,
	}
}

// Start begins the sweep.
func (s *OutstandingSweep) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info().Msg("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info().Dur("interval", s.CheckInterval).Msg("started")
}

// Stop stops the sweep and waits for an in-flight run to finish.
func (s *OutstandingSweep) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info().Msg("stopped")
}

func (s *OutstandingSweep) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow()

	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (s *OutstandingSweep) RunNow() SweepResult {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	rows, err := s.Service.GetAllOutstanding(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("outstanding sweep failed")
		return SweepResult{Err: err}
	}

	total := ledger.SumDue(rows)
	amount, _ := total.Float64()
	s.Metrics.SetOutstanding(len(rows), amount)

	res := SweepResult{Patients: len(rows), TotalDue: total.StringFixed(2)}

	diag, err := s.Service.Diagnostics(ctx)
	if err != nil {
		s.Logger.Error().Err(err).Msg("diagnostics failed")
		res.Err = err
		return res
	}
	res.Unmatched = len(diag.Unmatched)
	res.Ambiguous = len(diag.Ambiguous)
	res.Duplicates = len(diag.Duplicates)

	s.Logger.Info().
		Int("patients", res.Patients).
		Str("total_due", res.TotalDue).
		Int("unmatched", res.Unmatched).
		Int("ambiguous", res.Ambiguous).
		Int("duplicates", res.Duplicates).
		Msg("sweep completed")
	return res
}
