package boc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"marketwatch/internal/httpx"
	"marketwatch/internal/source"
)

type Config struct {
	Name     string
	URL      string
	Currency string // row label on the page, e.g. 美元
	// Unit is how many units of foreign currency one quoted price covers.
	// The bank quotes per 100.
	Unit       int
	BuyColumn  int
	SellColumn int
	Headers    map[string]string
}

// Provider scrapes the bank's published FX table.
type Provider struct {
	cfg    Config
	client *httpx.Client
	loc    *time.Location
	now    func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "boc"
	}
	if cfg.URL == "" {
		cfg.URL = "https://srh.bankofchina.com/search/whpj/search.jsp"
	}
	if cfg.Currency == "" {
		cfg.Currency = "美元"
	}
	if cfg.Unit <= 0 {
		cfg.Unit = 100
	}
	if cfg.BuyColumn <= 0 {
		cfg.BuyColumn = 1
	}
	if cfg.SellColumn <= 0 {
		cfg.SellColumn = 3
	}
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}
	return &Provider{cfg: cfg, client: hc, loc: loc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

// Fetch ignores key; the whole page is scraped.
func (p *Provider) Fetch(ctx context.Context, _ string) (source.Raw, error) {
	header := http.Header{}
	header.Set("Accept", "text/html")
	for k, v := range p.cfg.Headers {
		header.Set(k, v)
	}
	body, err := p.client.Get(ctx, p.cfg.Name, p.cfg.URL, header)
	if err != nil {
		return source.Raw{}, err
	}
	raw, err := p.parse(body)
	if err != nil {
		return source.Raw{}, source.ParseFailed(p.cfg.Name, err)
	}
	return raw, nil
}

func (p *Provider) parse(body []byte) (source.Raw, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return source.Raw{}, fmt.Errorf("parse html: %w", err)
	}
	row := findRow(doc, p.cfg.Currency)
	if row == nil {
		return source.Raw{}, fmt.Errorf("no %s row in rate table", p.cfg.Currency)
	}
	if len(row) <= p.cfg.BuyColumn || len(row) <= p.cfg.SellColumn {
		return source.Raw{}, fmt.Errorf("%s row has %d cells", p.cfg.Currency, len(row))
	}
	unit := decimal.NewFromInt(int64(p.cfg.Unit))
	buy, err := parsePrice(row[p.cfg.BuyColumn])
	if err != nil {
		return source.Raw{}, fmt.Errorf("buy: %w", err)
	}
	sell, err := parsePrice(row[p.cfg.SellColumn])
	if err != nil {
		return source.Raw{}, fmt.Errorf("sell: %w", err)
	}
	at, ok := p.publishedAt(row)
	if !ok {
		at = p.now().UTC()
	}
	return source.Raw{Buy: buy.Div(unit), Sell: sell.Div(unit), AsOf: at}, nil
}

func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("cell %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("cell %q is not a price", s)
	}
	return d, nil
}

var publishedLayouts = []string{
	"2006.01.02 15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// publishedAt reads the publication timestamp from the trailing cells; the
// page renders it either as one cell or as separate date and time cells.
func (p *Provider) publishedAt(row []string) (time.Time, bool) {
	if len(row) < 2 {
		return time.Time{}, false
	}
	candidates := []string{row[len(row)-1], row[len(row)-2] + " " + row[len(row)-1]}
	for _, c := range candidates {
		c = strings.Join(strings.Fields(c), " ")
		for _, layout := range publishedLayouts {
			if t, err := time.ParseInLocation(layout, c, p.loc); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// findRow returns the cell texts of the first table row whose first cell is label.
func findRow(n *html.Node, label string) []string {
	if n.Type == html.ElementNode && n.Data == "tr" {
		cells := rowCells(n)
		if len(cells) > 0 && cells[0] == label {
			return cells
		}
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if row := findRow(c, label); row != nil {
			return row
		}
	}
	return nil
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, strings.TrimSpace(text(c)))
		}
	}
	return cells
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(text(c))
	}
	return b.String()
}
