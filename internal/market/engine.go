package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketwatch/internal/metrics"
	"marketwatch/internal/source"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	errDisabled      = errors.New("source disabled")
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 8 * time.Second

type Config struct {
	Symbols         []string
	Pair            string
	HistoryCapacity int
	Timeout         time.Duration
	Spread          Spread
}

// SymbolOutcome is what one cycle did for one symbol. Err explains any
// provenance other than Primary.
type SymbolOutcome struct {
	Provenance Provenance
	Err        error
}

// CycleOutcome reports one RunCycle. A cancelled cycle publishes nothing:
// Cycle is the last committed number and Results is empty.
type CycleOutcome struct {
	Cycle     uint64
	StartedAt time.Time
	Duration  time.Duration
	Results   map[string]SymbolOutcome
	Cancelled bool
}

// Degraded lists symbols that did not get a primary value, sorted.
func (o CycleOutcome) Degraded() []string {
	var out []string
	for sym, r := range o.Results {
		if r.Provenance != Primary {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine runs refresh cycles and owns the snapshot and the histories.
type Engine struct {
	cfg      Config
	index    source.Source
	bank     source.Source
	mid      source.Source
	resolver FallbackResolver
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// run serializes cycles; mu guards everything below it.
	run     sync.Mutex
	mu      sync.RWMutex
	cycle   uint64
	snap    Snapshot
	history map[string]*HistoryBuffer[Quote]
	rates   *HistoryBuffer[RateQuote]
}

// NewEngine wires the sources. bank or mid may be nil, but not both.
func NewEngine(cfg Config, index, bank, mid source.Source, opts ...Option) (*Engine, error) {
	if index == nil {
		return nil, errors.New("market: index source is required")
	}
	if bank == nil && mid == nil {
		return nil, errors.New("market: need a bank or a mid-rate source")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("market: no index symbols")
	}
	if cfg.Pair == "" {
		return nil, errors.New("market: pair is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	cfg.Symbols = append([]string(nil), cfg.Symbols...)

	e := &Engine{
		cfg:      cfg,
		index:    index,
		bank:     bank,
		mid:      mid,
		resolver: FallbackResolver{Pair: cfg.Pair, Spread: cfg.Spread},
		log:      slog.Default(),
		now:      time.Now,
		history:  make(map[string]*HistoryBuffer[Quote], len(cfg.Symbols)),
		rates:    NewHistoryBuffer[RateQuote](cfg.HistoryCapacity),
		snap: Snapshot{
			Indices: make(map[string]Quote, len(cfg.Symbols)),
			Rate:    RateQuote{Pair: cfg.Pair, Provenance: Unavailable},
		},
	}
	for _, sym := range cfg.Symbols {
		if _, dup := e.history[sym]; dup {
			return nil, fmt.Errorf("market: duplicate symbol %q", sym)
		}
		e.history[sym] = NewHistoryBuffer[Quote](cfg.HistoryCapacity)
		e.snap.Indices[sym] = Quote{Symbol: sym, Provenance: Unavailable}
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// RunCycle fetches everything once and publishes the result. Source
// failures never escape; they show up as degraded provenance. If ctx is
// cancelled before the fetches finish the previous snapshot stays in place.
func (e *Engine) RunCycle(ctx context.Context) CycleOutcome {
	e.run.Lock()
	defer e.run.Unlock()

	started := e.now()
	idx := make([]source.Result, len(e.cfg.Symbols))
	var bank, mid source.Result

	var g errgroup.Group
	for i, sym := range e.cfg.Symbols {
		i, sym := i, sym
		g.Go(func() error {
			idx[i] = checkValue(e.fetch(ctx, e.index, sym, started), e.index.Name())
			return nil
		})
	}
	g.Go(func() error {
		bank = e.fetch(ctx, e.bank, "", started)
		if e.bank != nil {
			bank = CheckBank(bank, e.bank.Name())
		}
		return nil
	})
	g.Go(func() error {
		mid = e.fetch(ctx, e.mid, e.cfg.Pair, started)
		if e.mid != nil {
			mid = checkValue(mid, e.mid.Name())
		}
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		e.mu.RLock()
		cycle := e.cycle
		e.mu.RUnlock()
		e.log.Info("refresh cycle abandoned", "cycle", cycle+1, "reason", err)
		return CycleOutcome{
			Cycle:     cycle,
			StartedAt: started,
			Duration:  e.now().Sub(started),
			Cancelled: true,
		}
	}

	out := CycleOutcome{
		StartedAt: started,
		Results:   make(map[string]SymbolOutcome, len(e.cfg.Symbols)+1),
	}

	e.mu.Lock()
	e.cycle++
	next := Snapshot{
		Indices: make(map[string]Quote, len(e.cfg.Symbols)),
		CycleAt: started,
		Cycle:   e.cycle,
	}
	for i, sym := range e.cfg.Symbols {
		r := idx[i]
		if r.OK() {
			q := Quote{Symbol: sym, Value: r.Raw.Value, Timestamp: r.Raw.AsOf, Provenance: Primary}
			e.history[sym].Append(q)
			next.Indices[sym] = q
			out.Results[sym] = SymbolOutcome{Provenance: Primary}
			continue
		}
		prev := e.snap.Indices[sym]
		prev.Provenance = Unavailable
		next.Indices[sym] = prev
		out.Results[sym] = SymbolOutcome{Provenance: Unavailable, Err: r.Err}
	}
	rq := e.resolver.Resolve(bank, mid, e.snap.Rate)
	if rq.Provenance != Unavailable {
		e.rates.Append(rq)
	}
	next.Rate = rq
	e.snap = next
	out.Cycle = e.cycle
	points := make(map[string]int, len(e.history)+1)
	for sym, h := range e.history {
		points[sym] = h.Len()
	}
	points[e.cfg.Pair] = e.rates.Len()
	e.mu.Unlock()

	switch rq.Provenance {
	case Primary:
		out.Results[e.cfg.Pair] = SymbolOutcome{Provenance: Primary}
	case Fallback:
		out.Results[e.cfg.Pair] = SymbolOutcome{Provenance: Fallback, Err: bank.Err}
	default:
		out.Results[e.cfg.Pair] = SymbolOutcome{Provenance: Unavailable, Err: errors.Join(bank.Err, mid.Err)}
	}
	out.Duration = e.now().Sub(started)

	for sym, r := range out.Results {
		e.metrics.SetProvenance(sym, r.Provenance.gauge())
		e.metrics.SetHistoryPoints(sym, points[sym])
	}
	e.metrics.ObserveCycle(out.Duration)
	e.logCycle(out)
	return out
}

func (e *Engine) logCycle(out CycleOutcome) {
	attrs := []any{
		"cycle", out.Cycle,
		"duration", out.Duration,
		"rate", out.Results[e.cfg.Pair].Provenance,
	}
	degraded := out.Degraded()
	if len(degraded) == 0 {
		e.log.Info("refresh cycle", attrs...)
		return
	}
	reasons := make([]string, 0, len(degraded))
	for _, sym := range degraded {
		if err := out.Results[sym].Err; err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", sym, err))
		}
	}
	e.log.Warn("refresh cycle degraded", append(attrs, "degraded", degraded, "errors", reasons)...)
}

// fetch calls one source under the per-call timeout. Panics are recovered
// and reported as unreachable.
func (e *Engine) fetch(ctx context.Context, s source.Source, key string, now time.Time) (res source.Result) {
	if s == nil {
		return source.Result{Err: source.Unreachable("none", errDisabled)}
	}
	name := s.Name()
	defer func() {
		if r := recover(); r != nil {
			res = source.Result{Err: source.Unreachable(name, fmt.Errorf("panic: %v", r))}
		}
		if res.OK() {
			e.metrics.ObserveFetch(name, "ok")
		} else {
			e.metrics.ObserveFetch(name, string(source.Classify(res.Err)))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	raw, err := s.Fetch(ctx, key)
	if err != nil {
		var fe *source.FetchError
		if !errors.As(err, &fe) {
			err = source.Unreachable(name, err)
		}
		return source.Result{Err: err}
	}
	if raw.AsOf.IsZero() {
		raw.AsOf = now
	}
	return source.Result{Raw: raw}
}

func checkValue(r source.Result, name string) source.Result {
	if r.OK() && !r.Raw.Value.IsPositive() {
		return source.Result{Err: source.ParseFailed(name, fmt.Errorf("%w: %s", errNonPositive, r.Raw.Value))}
	}
	return r
}

// Snapshot returns a copy of the latest published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.clone()
}

// History returns the stored points for an index symbol, oldest first.
func (e *Engine) History(symbol string) ([]Quote, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.history[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return h.Points(), nil
}

func (e *Engine) RateHistory() []RateQuote {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates.Points()
}

// Symbols returns the index symbols in configured order.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.cfg.Symbols...)
}

func (e *Engine) Pair() string { return e.cfg.Pair }
