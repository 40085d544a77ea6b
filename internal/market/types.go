package market

import (
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/metrics"
)

// Provenance says where a displayed value came from.
type Provenance string

const (
	Primary     Provenance = "PRIMARY"
	Fallback    Provenance = "FALLBACK"
	Unavailable Provenance = "UNAVAILABLE"
)

func (p Provenance) gauge() int {
	switch p {
	case Primary:
		return metrics.ProvenancePrimary
	case Fallback:
		return metrics.ProvenanceFallback
	default:
		return metrics.ProvenanceUnavailable
	}
}

// Quote is one observation of an index.
type Quote struct {
	Symbol     string          `json:"symbol"`
	Value      decimal.Decimal `json:"value"`
	Timestamp  time.Time       `json:"timestamp"`
	Provenance Provenance      `json:"provenance"`
}

// RateQuote is one observation of a currency pair. Sell is never below Buy
// for values built with NewRateQuote.
type RateQuote struct {
	Pair       string          `json:"pair"`
	Buy        decimal.Decimal `json:"buy"`
	Sell       decimal.Decimal `json:"sell"`
	Timestamp  time.Time       `json:"timestamp"`
	Provenance Provenance      `json:"provenance"`
}

// NewRateQuote orders buy and sell so that Sell >= Buy.
func NewRateQuote(pair string, buy, sell decimal.Decimal, ts time.Time, p Provenance) RateQuote {
	if sell.LessThan(buy) {
		buy, sell = sell, buy
	}
	return RateQuote{Pair: pair, Buy: buy, Sell: sell, Timestamp: ts, Provenance: p}
}

var two = decimal.NewFromInt(2)

func (q RateQuote) Mid() decimal.Decimal { return q.Buy.Add(q.Sell).Div(two) }

func (q RateQuote) Spread() decimal.Decimal { return q.Sell.Sub(q.Buy) }

// Snapshot is the state published after a cycle. It is replaced wholesale.
type Snapshot struct {
	Indices map[string]Quote `json:"indices"`
	Rate    RateQuote        `json:"rate"`
	CycleAt time.Time        `json:"cycle_at"`
	Cycle   uint64           `json:"cycle"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Indices = make(map[string]Quote, len(s.Indices))
	for k, v := range s.Indices {
		out.Indices[k] = v
	}
	return out
}
