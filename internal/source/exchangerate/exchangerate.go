package exchangerate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/httpx"
	"marketwatch/internal/source"
)

// Config controls the mid-rate provider.
type Config struct {
	Name    string
	URL     string // base, e.g. https://api.exchangerate.host
	APIKey  string // optional; sent as access_key
	Headers map[string]string
}

// Provider fetches a mid-market rate for a currency pair.
type Provider struct {
	cfg    Config
	client *httpx.Client
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "exchangerate"
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.exchangerate.host"
	}
	return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

// Fetch takes a pair such as "USD/CNY".
func (p *Provider) Fetch(ctx context.Context, key string) (source.Raw, error) {
	pair, err := source.ParsePair(key)
	if err != nil {
		return source.Raw{}, source.ParseFailed(p.cfg.Name, err)
	}

	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return source.Raw{}, source.Unreachable(p.cfg.Name, err)
	}
	u = u.JoinPath("latest")
	q := u.Query()
	q.Set("base", pair.Base)
	q.Set("symbols", pair.Quote)
	if p.cfg.APIKey != "" {
		q.Set("access_key", p.cfg.APIKey)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/json")
	for k, v := range p.cfg.Headers {
		header.Set(k, v)
	}
	b, err := p.client.Get(ctx, p.cfg.Name, u.String(), header)
	if err != nil {
		return source.Raw{}, err
	}

	var body apiResponse
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return source.Raw{}, source.ParseFailed(p.cfg.Name, fmt.Errorf("decode: %w", err))
	}
	if body.Success != nil && !*body.Success {
		if body.Error != nil && body.Error.Code == usageLimitReached {
			return source.Raw{}, source.RateLimited(p.cfg.Name, fmt.Errorf("provider error: %s", body.Error.Info))
		}
		return source.Raw{}, source.ParseFailed(p.cfg.Name, fmt.Errorf("provider error: %s", body.Error))
	}
	n, ok := body.Rates[pair.Quote]
	if !ok {
		return source.Raw{}, source.ParseFailed(p.cfg.Name, fmt.Errorf("no %s rate in response", pair.Quote))
	}
	mid, err := decimal.NewFromString(n.String())
	if err != nil || !mid.IsPositive() {
		return source.Raw{}, source.ParseFailed(p.cfg.Name, fmt.Errorf("bad %s rate %q", pair.Quote, n.String()))
	}

	at := p.now().UTC()
	if body.Timestamp > 0 {
		at = time.Unix(body.Timestamp, 0).UTC()
	}
	return source.Raw{Value: mid, AsOf: at}, nil
}

// usageLimitReached is the API's code for an exhausted monthly quota.
const usageLimitReached = 104

type apiResponse struct {
	Success   *bool                  `json:"success"`
	Timestamp int64                  `json:"timestamp"`
	Base      string                 `json:"base"`
	Rates     map[string]json.Number `json:"rates"`
	Error     *apiError              `json:"error"`
}

type apiError struct {
	Code int    `json:"code"`
	Type string `json:"type"`
	Info string `json:"info"`
}

func (e *apiError) String() string {
	if e == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d %s %s", e.Code, e.Type, e.Info)
}
