package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/source"
)

// Name identifies this upstream in errors and metrics.
const Name = "yahoo"

// Chart is the subset of the chart payload the index source needs.
type Chart struct {
	Symbol string
	// Price is meta.regularMarketPrice, nil when absent.
	Price *decimal.Decimal
	// MarketTime is meta.regularMarketTime, zero when absent.
	MarketTime time.Time
	// Points are the intraday closes, oldest first, nulls dropped.
	Points []Point
}

// Point is one intraday bar close.
type Point struct {
	At    time.Time
	Close decimal.Decimal
}

// Last returns the most recent usable value: the regular market price when
// present, otherwise the last intraday close.
func (c Chart) Last() (decimal.Decimal, time.Time, bool) {
	if c.Price != nil && c.Price.IsPositive() {
		return *c.Price, c.MarketTime, true
	}
	if n := len(c.Points); n > 0 {
		p := c.Points[n-1]
		return p.Close, p.At, true
	}
	return decimal.Decimal{}, time.Time{}, false
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string       `json:"symbol"`
		RegularMarketPrice *json.Number `json:"regularMarketPrice"`
		RegularMarketTime  int64        `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*json.Number `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// GetChart retrieves the one-day, one-minute chart for symbol.
func (c *Client) GetChart(ctx context.Context, symbol string, opts ...ClientOption) (Chart, error) {
	var override = &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      maps.Clone(c.query),
	}
	for _, opt := range opts {
		opt(override)
	}

	query := maps.Clone(override.query)
	query.Set("interval", "1m")
	query.Set("range", "1d")

	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", override.baseURL, url.PathEscape(symbol), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return Chart{}, source.Unreachable(Name, fmt.Errorf("creating request: %w", err))
	}
	req.Header = override.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := override.httpClient.Do(req)
	if err != nil {
		return Chart{}, source.Unreachable(Name, fmt.Errorf("performing request: %w", err))
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return Chart{}, source.RateLimited(Name, fmt.Errorf("chart %s: status %d", symbol, res.StatusCode))
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return Chart{}, source.FromStatus(Name, res.StatusCode, string(b))
	}

	var body chartResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return Chart{}, source.ParseFailed(Name, fmt.Errorf("decoding chart response: %w", err))
	}
	if e := body.Chart.Error; e != nil {
		return Chart{}, source.ParseFailed(Name, fmt.Errorf("chart %s: %s: %s", symbol, e.Code, e.Description))
	}
	if len(body.Chart.Result) == 0 {
		return Chart{}, source.ParseFailed(Name, errors.New("chart response has no result"))
	}
	return toChart(body.Chart.Result[0])
}

func toChart(r chartResult) (Chart, error) {
	out := Chart{Symbol: r.Meta.Symbol}
	if r.Meta.RegularMarketPrice != nil {
		d, err := decimal.NewFromString(r.Meta.RegularMarketPrice.String())
		if err != nil {
			return Chart{}, source.ParseFailed(Name, fmt.Errorf("decoding regularMarketPrice: %w", err))
		}
		out.Price = &d
	}
	if r.Meta.RegularMarketTime > 0 {
		out.MarketTime = time.Unix(r.Meta.RegularMarketTime, 0).UTC()
	}
	if len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i, ts := range r.Timestamp {
			if i >= len(closes) || closes[i] == nil {
				continue
			}
			d, err := decimal.NewFromString(closes[i].String())
			if err != nil {
				return Chart{}, source.ParseFailed(Name, fmt.Errorf("decoding close: %w", err))
			}
			out.Points = append(out.Points, Point{At: time.Unix(ts, 0).UTC(), Close: d})
		}
	}
	return out, nil
}
