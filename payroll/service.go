package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

// Source is the read side payroll needs from the absence gateway.
type Source interface {
	absence.UserReader
	FindEventsForUser(ctx context.Context, userID string) ([]absence.Event, error)
}

// Line is one row of the monthly report.
type Line struct {
	User      absence.User
	Statement Statement
}

type Service struct {
	source      Source
	calc        Calculator
	logger      *slog.Logger
	concurrency int
}

// NewService builds a payroll service. concurrency bounds the number of users
// processed in parallel by MonthlyReport; values below 1 mean 8.
func NewService(source Source, policy Policy, logger *slog.Logger, concurrency int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 8
	}
	return &Service{source: source, calc: NewCalculator(policy), logger: logger, concurrency: concurrency}
}

func checkPeriod(month time.Month, year int) error {
	if !generic.ValidMonth(int(month)) {
		return fmt.Errorf("%w: month must be 1..12, got %d", generic.ErrInvalidInput, month)
	}
	if year < 1 || year > 9999 {
		return fmt.Errorf("%w: year out of range: %d", generic.ErrInvalidInput, year)
	}
	return nil
}

// MealVouchers computes the statement of one user for one month.
func (s *Service) MealVouchers(ctx context.Context, userID string, month time.Month, year int) (Statement, error) {
	if err := checkPeriod(month, year); err != nil {
		return Statement{}, err
	}
	if _, err := s.source.FindUser(ctx, userID); err != nil {
		return Statement{}, err
	}
	return s.statement(ctx, userID, month, year)
}

func (s *Service) statement(ctx context.Context, userID string, month time.Month, year int) (Statement, error) {
	events, err := s.source.FindEventsForUser(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to load events for %s: %w", userID, err)
	}
	st := s.calc.Statement(events, month, year)
	st.UserID = userID
	return st, nil
}

// MonthlyReport computes statements for every user, sorted by username.
// The first failure cancels the remaining work.
func (s *Service) MonthlyReport(ctx context.Context, month time.Month, year int) ([]Line, error) {
	if err := checkPeriod(month, year); err != nil {
		return nil, err
	}
	users, err := s.source.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	lines := make([]Line, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, u := range users {
		i, u := i, u
		g.Go(func() error {
			st, err := s.statement(gctx, u.ID, month, year)
			if err != nil {
				return err
			}
			lines[i] = Line{User: u, Statement: st}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].User.Username < lines[j].User.Username })
	s.logger.InfoContext(ctx, "monthly meal voucher report computed",
		slog.Int("users", len(lines)),
		slog.Int("month", int(month)),
		slog.Int("year", year),
	)
	return lines, nil
}
