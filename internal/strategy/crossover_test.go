package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func prices(values ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func flat(n int, value float64) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.NewFromFloat(value)
	}
	return out
}

func TestNewCrossoverRejectsBadPeriods(t *testing.T) {
	_, err := NewCrossover(0, 2, 3)
	require.Error(t, err)
	_, err = NewCrossover(3, 2, 5)
	require.Error(t, err)
	_, err = NewCrossover(2, 4, 4)
	require.Error(t, err)
}

func TestNoSignalBeforeWarm(t *testing.T) {
	c, err := NewCrossover(2, 3, 5)
	require.NoError(t, err)
	for _, p := range prices(100, 101, 102, 103) {
		require.Equal(t, SignalNone, c.Observe(p))
	}
	require.False(t, c.Ready())
}

func TestBullishTransitionFiresOnce(t *testing.T) {
	c, err := NewCrossover(2, 3, 5)
	require.NoError(t, err)
	c.Warmup(flat(5, 100))
	require.True(t, c.Ready())

	// Rising prices order the averages short > medium > long.
	var signals []Signal
	for _, p := range prices(101, 103, 106, 110, 115) {
		signals = append(signals, c.Observe(p))
	}
	fired := 0
	for _, s := range signals {
		if s == SignalCall {
			fired++
		}
		require.NotEqual(t, SignalPut, s)
	}
	require.Equal(t, 1, fired, "bullish alignment should signal exactly once: %v", signals)
}

func TestBearishTransitionFiresPut(t *testing.T) {
	c, err := NewCrossover(2, 3, 5)
	require.NoError(t, err)
	c.Warmup(flat(5, 100))

	var got Signal
	for _, p := range prices(99, 97, 94, 90, 85) {
		if s := c.Observe(p); s != SignalNone {
			got = s
			break
		}
	}
	require.Equal(t, SignalPut, got)
}

func TestWarmupSwallowsExistingAlignment(t *testing.T) {
	c, err := NewCrossover(2, 3, 5)
	require.NoError(t, err)
	// History that is already bullish must not fire on the next tick that
	// keeps the same alignment.
	c.Warmup(prices(100, 102, 105, 109, 114))
	require.Equal(t, SignalNone, c.Observe(decimal.NewFromFloat(120)))
}

func TestSignalStrings(t *testing.T) {
	require.Equal(t, "call", SignalCall.String())
	require.Equal(t, "put", SignalPut.String())
	require.Equal(t, "none", SignalNone.String())
}

func TestStrengthTracksDivergence(t *testing.T) {
	c, err := NewCrossover(2, 3, 5)
	require.NoError(t, err)
	require.True(t, c.Strength().IsZero())

	c.Warmup(prices(100, 100, 100, 100, 100))
	require.True(t, c.Strength().IsZero())

	c.Observe(decimal.NewFromFloat(110))
	c.Observe(decimal.NewFromFloat(120))
	require.True(t, c.Strength().GreaterThan(decimal.Zero))
}
