// Package financego serves index levels from the Yahoo quote API through
// github.com/piquette/finance-go.
package financego

import (
	"context"
	"fmt"
	"net/http"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"marketwatch/internal/source"
)

const Name = "finance-go"

// UseHTTPClient routes the library's backend through hc. The library keeps
// its client in package state, so this affects every Index.
func UseHTTPClient(hc *http.Client) { finance.SetHTTPClient(hc) }

// Index is a source.Source backed by quote.Get.
type Index struct {
	get func(symbol string) (*finance.Quote, error)
	now func() time.Time
}

func NewIndex() *Index {
	return &Index{get: quote.Get, now: time.Now}
}

func (x *Index) Name() string { return Name }

// Fetch runs the blocking library call on its own goroutine so that a
// cancelled ctx returns immediately; the abandoned call finishes against the
// http client timeout.
func (x *Index) Fetch(ctx context.Context, symbol string) (source.Raw, error) {
	type result struct {
		q   *finance.Quote
		err error
	}
	ch := make(chan result, 1)
	go func() {
		q, err := x.get(symbol)
		ch <- result{q, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return source.Raw{}, source.Unreachable(Name, ctx.Err())
	case r = <-ch:
	}
	if r.err != nil {
		return source.Raw{}, source.Unreachable(Name, fmt.Errorf("quote %s: %w", symbol, r.err))
	}
	if r.q == nil || r.q.RegularMarketPrice <= 0 {
		return source.Raw{}, source.ParseFailed(Name, fmt.Errorf("quote %s carries no price", symbol))
	}
	at := x.now().UTC()
	if r.q.RegularMarketTime > 0 {
		at = time.Unix(int64(r.q.RegularMarketTime), 0).UTC()
	}
	return source.Raw{Value: decimal.NewFromFloat(r.q.RegularMarketPrice), AsOf: at}, nil
}
