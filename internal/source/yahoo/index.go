package yahoo

import (
	"context"
	"fmt"
	"time"

	"marketwatch/internal/source"
)

// Index adapts the chart client to source.Source for equity index tickers.
type Index struct {
	client *Client
	now    func() time.Time
}

func NewIndex(client *Client) *Index {
	return &Index{client: client, now: time.Now}
}

func (x *Index) Name() string { return Name }

func (x *Index) Fetch(ctx context.Context, symbol string) (source.Raw, error) {
	chart, err := x.client.GetChart(ctx, symbol)
	if err != nil {
		return source.Raw{}, err
	}
	v, at, ok := chart.Last()
	if !ok {
		return source.Raw{}, source.ParseFailed(Name, fmt.Errorf("chart %s carries no price", symbol))
	}
	if at.IsZero() {
		at = x.now().UTC()
	}
	return source.Raw{Value: v, AsOf: at}, nil
}
