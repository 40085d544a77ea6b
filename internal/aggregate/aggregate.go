package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
	"marketwatch/internal/source"
)

// Point is one value of a series, whatever it came from.
type Point struct {
	Value      decimal.Decimal
	At         time.Time
	Provenance market.Provenance
}

// Summary describes a series over the retained history window.
type Summary struct {
	Symbol     string                    `json:"symbol"`
	Count      int                       `json:"count"`
	First      decimal.Decimal           `json:"first"`
	Last       decimal.Decimal           `json:"last"`
	Min        decimal.Decimal           `json:"min"`
	Max        decimal.Decimal           `json:"max"`
	Change     decimal.Decimal           `json:"change"`
	ChangePct  decimal.Decimal           `json:"change_pct"`
	FirstAt    time.Time                 `json:"first_at,omitzero"`
	LastAt     time.Time                 `json:"last_at,omitzero"`
	Provenance map[market.Provenance]int `json:"provenance"`
}

// aliasMap normalizes common spellings of the tracked indices.
//
//	ndx, nasdaq100, nasdaq-100 -> ^NDX
//	spx, gspc, sp500, s&p500   -> ^GSPC
//	dji, dow                   -> ^DJI
var aliasMap = map[string]string{
	"ndx":        "^NDX",
	"nasdaq100":  "^NDX",
	"nasdaq-100": "^NDX",
	"spx":        "^GSPC",
	"gspc":       "^GSPC",
	"sp500":      "^GSPC",
	"s&p500":     "^GSPC",
	"dji":        "^DJI",
	"dow":        "^DJI",
}

// NormalizeSymbol maps user input to a tracked symbol. Currency pairs in any
// accepted spelling come back as BASE/QUOTE; known index aliases map to their
// ticker; anything else is trimmed and upper-cased.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if norm, ok := aliasMap[strings.ToLower(s)]; ok {
		return norm
	}
	if !strings.HasPrefix(s, "^") {
		if p, err := source.ParsePair(s); err == nil {
			return p.String()
		}
	}
	return strings.ToUpper(s)
}

func FromQuotes(qs []market.Quote) []Point {
	out := make([]Point, len(qs))
	for i, q := range qs {
		out[i] = Point{Value: q.Value, At: q.Timestamp, Provenance: q.Provenance}
	}
	return out
}

// FromRates summarizes a rate series by its mid.
func FromRates(rs []market.RateQuote) []Point {
	out := make([]Point, len(rs))
	for i, r := range rs {
		out[i] = Point{Value: r.Mid(), At: r.Timestamp, Provenance: r.Provenance}
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// Summarize expects points oldest first. An empty series yields Count 0.
func Summarize(symbol string, pts []Point) Summary {
	s := Summary{Symbol: symbol, Count: len(pts), Provenance: map[market.Provenance]int{}}
	if len(pts) == 0 {
		return s
	}
	first, last := pts[0], pts[len(pts)-1]
	s.First, s.Last = first.Value, last.Value
	s.FirstAt, s.LastAt = first.At, last.At
	s.Min, s.Max = first.Value, first.Value
	for _, p := range pts {
		if p.Value.LessThan(s.Min) {
			s.Min = p.Value
		}
		if p.Value.GreaterThan(s.Max) {
			s.Max = p.Value
		}
		s.Provenance[p.Provenance]++
	}
	s.Change = s.Last.Sub(s.First)
	if !s.First.IsZero() {
		s.ChangePct = s.Change.Div(s.First).Mul(hundred).Round(4)
	}
	return s
}

// Build summarizes every index plus the pair, sorted by symbol.
func Build(indices map[string][]market.Quote, pair string, rates []market.RateQuote) []Summary {
	out := make([]Summary, 0, len(indices)+1)
	for sym, qs := range indices {
		out = append(out, Summarize(sym, FromQuotes(qs)))
	}
	if pair != "" {
		out = append(out, Summarize(pair, FromRates(rates)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// History is the read side Build needs.
type History interface {
	Symbols() []string
	History(symbol string) ([]market.Quote, error)
	RateHistory() []market.RateQuote
	Pair() string
}

// FromEngine summarizes what h currently holds.
func FromEngine(h History) []Summary {
	idx := make(map[string][]market.Quote)
	for _, sym := range h.Symbols() {
		qs, err := h.History(sym)
		if err != nil {
			continue
		}
		idx[sym] = qs
	}
	return Build(idx, h.Pair(), h.RateHistory())
}
