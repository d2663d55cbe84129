// Package risk enforces daily trading limits and sizes stakes.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/finbrook/tradewire/errs"
)

// Limits defines the risk parameters for one trading account.
type Limits struct {
	// MaxDailyLoss halts trading for the day once cumulative losses reach
	// this amount. Zero disables the check.
	MaxDailyLoss decimal.Decimal

	// MaxDailyTrades halts trading for the day after this many contracts.
	// Zero disables the check.
	MaxDailyTrades int

	// RiskFraction sizes each stake as a fraction of current balance.
	// Zero falls back to the configured base stake.
	RiskFraction decimal.Decimal

	// MinStake and MaxStake clamp the computed stake.
	MinStake decimal.Decimal
	MaxStake decimal.Decimal

	// OrderThrottle is the maximum rate of contract purchases per second.
	// Zero disables throttling.
	OrderThrottle float64
}

// DayStats snapshots one day's running tally.
type DayStats struct {
	Date   string
	Trades int
	Profit decimal.Decimal
}

// Manager tracks intraday results and decides whether each next trade is
// allowed. The tally resets at the first trade of a new calendar day.
type Manager struct {
	limits  Limits
	limiter *rate.Limiter
	now     func() time.Time

	mu     sync.Mutex
	day    string
	trades int
	profit decimal.Decimal
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	m := &Manager{limits: limits, now: time.Now}
	if limits.OrderThrottle > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(limits.OrderThrottle), 1)
	}
	return m
}

func (m *Manager) rollover() {
	today := m.now().Format("2006-01-02")
	if m.day != today {
		m.day = today
		m.trades = 0
		m.profit = decimal.Zero
	}
}

// AllowTrade checks the throttle and daily limits, reserving one trade slot
// when it passes.
func (m *Manager) AllowTrade(ctx context.Context) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return errs.New("risk", errs.CodeUnavailable,
				errs.WithMessage("order throttle wait aborted"), errs.WithCause(err))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	if m.limits.MaxDailyTrades > 0 && m.trades >= m.limits.MaxDailyTrades {
		return errs.New("risk", errs.CodeUnavailable,
			errs.WithMessage("daily trade limit reached"))
	}
	if m.limits.MaxDailyLoss.IsPositive() && m.profit.Neg().GreaterThanOrEqual(m.limits.MaxDailyLoss) {
		return errs.New("risk", errs.CodeUnavailable,
			errs.WithMessage("daily loss limit reached"))
	}
	m.trades++
	return nil
}

// RecordResult folds one settled contract's profit into the daily tally.
func (m *Manager) RecordResult(profit decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	m.profit = m.profit.Add(profit)
}

// Stake sizes the next contract from the current balance: RiskFraction of
// balance, clamped to the configured bounds. A zero fraction returns base.
func (m *Manager) Stake(balance, base decimal.Decimal) decimal.Decimal {
	stake := base
	if m.limits.RiskFraction.IsPositive() && balance.IsPositive() {
		stake = balance.Mul(m.limits.RiskFraction)
	}
	if m.limits.MaxStake.IsPositive() && stake.GreaterThan(m.limits.MaxStake) {
		stake = m.limits.MaxStake
	}
	if m.limits.MinStake.IsPositive() && stake.LessThan(m.limits.MinStake) {
		stake = m.limits.MinStake
	}
	return stake.Round(2)
}

// Snapshot returns the current day's tally.
func (m *Manager) Snapshot() DayStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	return DayStats{Date: m.day, Trades: m.trades, Profit: m.profit}
}
