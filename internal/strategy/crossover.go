// Package strategy derives trade signals from a price series.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/finbrook/tradewire/errs"
)

// Signal is the strategy's verdict for the latest price.
type Signal int

const (
	SignalNone Signal = iota
	SignalCall
	SignalPut
)

func (s Signal) String() string {
	switch s {
	case SignalCall:
		return "call"
	case SignalPut:
		return "put"
	default:
		return "none"
	}
}

type alignment int

const (
	alignNeutral alignment = iota
	alignBullish
	alignBearish
)

// Crossover is a triple moving-average crossover. A signal fires only on the
// transition into a fully ordered alignment, not while it persists.
type Crossover struct {
	short  int
	medium int
	long   int

	prices []decimal.Decimal
	last   alignment
}

// NewCrossover builds the signal generator. Periods must be strictly
// increasing so the three averages are distinguishable.
func NewCrossover(short, medium, long int) (*Crossover, error) {
	if short <= 0 || short >= medium || medium >= long {
		return nil, errs.New("strategy", errs.CodeInvalid,
			errs.WithMessage("crossover periods must be strictly increasing and positive"))
	}
	return &Crossover{short: short, medium: medium, long: long}, nil
}

// Warmup seeds the price window, typically from a history snapshot, without
// emitting signals.
func (c *Crossover) Warmup(prices []decimal.Decimal) {
	for _, p := range prices {
		c.push(p)
	}
	if c.Ready() {
		c.last = c.alignmentNow()
	}
}

// Ready reports whether enough prices are buffered to compute all averages.
func (c *Crossover) Ready() bool {
	return len(c.prices) >= c.long
}

// Observe appends a price and returns the signal for it, if any.
func (c *Crossover) Observe(price decimal.Decimal) Signal {
	c.push(price)
	if !c.Ready() {
		return SignalNone
	}
	now := c.alignmentNow()
	prev := c.last
	c.last = now
	if now == prev {
		return SignalNone
	}
	switch now {
	case alignBullish:
		return SignalCall
	case alignBearish:
		return SignalPut
	default:
		return SignalNone
	}
}

// Strength reports the short-long divergence normalized by the long average,
// as an absolute fraction. Zero until warm.
func (c *Crossover) Strength() decimal.Decimal {
	if !c.Ready() {
		return decimal.Zero
	}
	l := c.average(c.long)
	if l.IsZero() {
		return decimal.Zero
	}
	return c.average(c.short).Sub(l).Div(l).Abs()
}

func (c *Crossover) push(price decimal.Decimal) {
	c.prices = append(c.prices, price)
	if len(c.prices) > c.long {
		c.prices = c.prices[len(c.prices)-c.long:]
	}
}

func (c *Crossover) alignmentNow() alignment {
	s := c.average(c.short)
	m := c.average(c.medium)
	l := c.average(c.long)
	switch {
	case s.GreaterThan(m) && m.GreaterThan(l):
		return alignBullish
	case s.LessThan(m) && m.LessThan(l):
		return alignBearish
	default:
		return alignNeutral
	}
}

// average computes the mean of the most recent n prices.
func (c *Crossover) average(n int) decimal.Decimal {
	window := c.prices[len(c.prices)-n:]
	sum := decimal.Zero
	for _, p := range window {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
