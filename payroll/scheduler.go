/*
scheduler.go - Month-close voucher scheduler

PURPOSE:
  Periodically checks whether a calendar month has ended and, once per
  month, computes the meal voucher report for it. The report is logged
  and handed to an optional callback (export, notification).

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - The month closed is always the one before "now"
  - A month is closed at most once per process; RunNow forces it again

USAGE:
  s := payroll.NewMonthCloseScheduler(svc, logger)
  s.Start()
  defer s.Stop()

SEE ALSO:
  - service.go: MonthlyReport
  - cmd/server/main.go: Startup and shutdown
*/
package payroll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/absence-engine/generic"
)

// MonthKey identifies a closed month.
type MonthKey struct {
	Month time.Month
	Year  int
}

// PreviousMonth returns the month before the one containing t.
func PreviousMonth(t time.Time) MonthKey {
	prev := generic.StartOfMonth(t.Year(), t.Month()).AddMonths(-1)
	return MonthKey{Month: prev.Month(), Year: prev.Year()}
}

// CloseFunc receives each computed month report.
type CloseFunc func(ctx context.Context, month MonthKey, lines []Line) error

type MonthCloseScheduler struct {
	Service       *Service
	CheckInterval time.Duration
	Enabled       bool
	OnClose       CloseFunc
	Now           func() time.Time

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	closedMu sync.Mutex
	closed   map[MonthKey]bool
}

func NewMonthCloseScheduler(svc *Service, logger *slog.Logger) *MonthCloseScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonthCloseScheduler{
		Service:       svc,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
		logger:        logger.With(slog.String("component", "month-close")),
		closed:        make(map[MonthKey]bool),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *MonthCloseScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("scheduler started", slog.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (s *MonthCloseScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("scheduler stopped")
}

func (s *MonthCloseScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.check(ctx)
	for {
		select {
		case <-ticker.C:
			s.check(ctx)
		case <-stop:
			return
		}
	}
}

func (s *MonthCloseScheduler) check(ctx context.Context) {
	key := PreviousMonth(s.Now())

	s.closedMu.Lock()
	done := s.closed[key]
	s.closedMu.Unlock()
	if done {
		return
	}

	if _, err := s.close(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "month close failed",
			slog.Int("month", int(key.Month)),
			slog.Int("year", key.Year),
			slog.Any("error", err),
		)
	}
}

// RunNow closes the previous month immediately, even if it was closed before.
func (s *MonthCloseScheduler) RunNow(ctx context.Context) ([]Line, error) {
	return s.close(ctx, PreviousMonth(s.Now()))
}

// Closed reports whether key has been closed by this scheduler.
func (s *MonthCloseScheduler) Closed(key MonthKey) bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.closed[key]
}

func (s *MonthCloseScheduler) close(ctx context.Context, key MonthKey) ([]Line, error) {
	lines, err := s.Service.MonthlyReport(ctx, key.Month, key.Year)
	if err != nil {
		return nil, err
	}
	if s.OnClose != nil {
		if err := s.OnClose(ctx, key, lines); err != nil {
			return nil, err
		}
	}

	total := generic.NewAmountFromInt(0, generic.UnitCurrency)
	for _, l := range lines {
		total = total.Add(l.Statement.Amount())
	}

	s.closedMu.Lock()
	s.closed[key] = true
	s.closedMu.Unlock()

	s.logger.InfoContext(ctx, "month closed",
		slog.Int("month", int(key.Month)),
		slog.Int("year", key.Year),
		slog.Int("users", len(lines)),
		slog.String("total", total.String()),
	)
	return lines, nil
}
