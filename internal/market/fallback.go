package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"marketwatch/internal/source"
)

// DefaultSpreadRatio is the half-spread applied around a mid rate.
var DefaultSpreadRatio = decimal.RequireFromString("0.01")

// Spread configures the synthetic buy/sell around a mid rate. A positive
// Absolute takes precedence over Ratio.
type Spread struct {
	Ratio    decimal.Decimal
	Absolute decimal.Decimal
}

func (s Spread) delta(mid decimal.Decimal) decimal.Decimal {
	if s.Absolute.IsPositive() {
		return s.Absolute
	}
	ratio := s.Ratio
	if !ratio.IsPositive() {
		ratio = DefaultSpreadRatio
	}
	return ratio.Mul(mid)
}

// FallbackResolver picks the displayed rate: the bank's quote, else a spread
// around the mid rate, else the previous value marked unavailable.
type FallbackResolver struct {
	Pair   string
	Spread Spread
}

var errNonPositive = errors.New("non-positive price")

// CheckBank turns a bank result with a non-positive side into a failure.
func CheckBank(bank source.Result, name string) source.Result {
	if !bank.OK() {
		return bank
	}
	if !bank.Raw.Buy.IsPositive() || !bank.Raw.Sell.IsPositive() {
		return source.Result{Err: source.ParseFailed(name,
			fmt.Errorf("%w: buy=%s sell=%s", errNonPositive, bank.Raw.Buy, bank.Raw.Sell))}
	}
	return bank
}

func (r FallbackResolver) Resolve(bank, mid source.Result, prev RateQuote) RateQuote {
	bank = CheckBank(bank, "bank")
	if bank.OK() {
		return NewRateQuote(r.Pair, bank.Raw.Buy, bank.Raw.Sell, bank.Raw.AsOf, Primary)
	}
	if mid.OK() && mid.Raw.Value.IsPositive() {
		m := mid.Raw.Value
		d := r.Spread.delta(m)
		return NewRateQuote(r.Pair, m.Sub(d), m.Add(d), mid.Raw.AsOf, Fallback)
	}
	prev.Provenance = Unavailable
	if prev.Pair == "" {
		prev.Pair = r.Pair
	}
	return prev
}
