package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/finbrook/tradewire/errs"
)

func TestAllowTradeStopsAtDailyTradeLimit(t *testing.T) {
	m := NewManager(Limits{MaxDailyTrades: 2})
	require.NoError(t, m.AllowTrade(context.Background()))
	require.NoError(t, m.AllowTrade(context.Background()))

	err := m.AllowTrade(context.Background())
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	require.Equal(t, 2, m.Snapshot().Trades)
}

func TestAllowTradeStopsAtDailyLossLimit(t *testing.T) {
	m := NewManager(Limits{MaxDailyLoss: decimal.NewFromInt(50)})
	require.NoError(t, m.AllowTrade(context.Background()))
	m.RecordResult(decimal.NewFromInt(-50))

	err := m.AllowTrade(context.Background())
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
}

func TestProfitOffsetsLosses(t *testing.T) {
	m := NewManager(Limits{MaxDailyLoss: decimal.NewFromInt(50)})
	m.RecordResult(decimal.NewFromInt(-40))
	m.RecordResult(decimal.NewFromInt(30))
	require.NoError(t, m.AllowTrade(context.Background()))
}

func TestTallyResetsOnNewDay(t *testing.T) {
	day := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	m := NewManager(Limits{MaxDailyTrades: 1})
	m.now = func() time.Time { return day }

	require.NoError(t, m.AllowTrade(context.Background()))
	require.Error(t, m.AllowTrade(context.Background()))

	m.now = func() time.Time { return day.Add(2 * time.Hour) }
	require.NoError(t, m.AllowTrade(context.Background()))
	stats := m.Snapshot()
	require.Equal(t, "2026-08-26", stats.Date)
	require.Equal(t, 1, stats.Trades)
}

func TestStakeSizing(t *testing.T) {
	m := NewManager(Limits{
		RiskFraction: decimal.NewFromFloat(0.02),
		MinStake:     decimal.NewFromInt(1),
		MaxStake:     decimal.NewFromInt(25),
	})
	base := decimal.NewFromInt(10)

	// 2% of 1000 = 20, inside the bounds.
	require.True(t, m.Stake(decimal.NewFromInt(1000), base).Equal(decimal.NewFromInt(20)))
	// 2% of 5000 = 100, clamped to max.
	require.True(t, m.Stake(decimal.NewFromInt(5000), base).Equal(decimal.NewFromInt(25)))
	// 2% of 10 = 0.2, clamped to min.
	require.True(t, m.Stake(decimal.NewFromInt(10), base).Equal(decimal.NewFromInt(1)))
}

func TestStakeFallsBackToBase(t *testing.T) {
	m := NewManager(Limits{})
	base := decimal.NewFromFloat(12.345)
	require.True(t, m.Stake(decimal.NewFromInt(1000), base).Equal(decimal.NewFromFloat(12.35)))
}
