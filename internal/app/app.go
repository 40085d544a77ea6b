// Package app wires configuration into sources and the engine. Both
// binaries share it.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/config"
	"marketwatch/internal/httpx"
	"marketwatch/internal/logger"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/source"
	"marketwatch/internal/source/boc"
	"marketwatch/internal/source/cache"
	"marketwatch/internal/source/exchangerate"
	"marketwatch/internal/source/financego"
	"marketwatch/internal/source/ratelimit"
	"marketwatch/internal/source/yahoo"
)

func Logger(cfg config.Log) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		FilePath:   cfg.FilePath,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Sources builds the index, bank and mid-rate sources with their limiters
// and caches. bank or mid is nil when disabled.
func Sources(cfg config.Config, log *slog.Logger) (index, bank, mid source.Source, err error) {
	timeout := seconds(cfg.Sources.TimeoutSec)
	hc := httpx.New(timeout)
	if cfg.Sources.UserAgent != "" {
		hc.UserAgent = cfg.Sources.UserAgent
	}

	switch cfg.Sources.IndexBackend {
	case "financego":
		financego.UseHTTPClient(hc.HTTP)
		index = ratelimit.Wrap(financego.NewIndex(), cfg.FinanceGo.MaxRequestsPerMinute, cfg.FinanceGo.Burst, 0)
	default:
		header := http.Header{}
		header.Set("User-Agent", hc.UserAgent)
		opts := []yahoo.ClientOption{
			yahoo.WithBaseURL(cfg.Yahoo.Endpoint),
			yahoo.WithHTTPClient(hc.HTTP),
			yahoo.WithHeader(header),
		}
		if cfg.Yahoo.Region != "" {
			opts = append(opts, yahoo.WithQuery(url.Values{"region": {cfg.Yahoo.Region}}))
		}
		client, cerr := yahoo.NewClient(opts...)
		if cerr != nil {
			return nil, nil, nil, fmt.Errorf("yahoo client: %w", cerr)
		}
		index = ratelimit.Wrap(yahoo.NewIndex(client), cfg.Yahoo.MaxRequestsPerMinute, cfg.Yahoo.Burst, seconds(cfg.Yahoo.MinRequestIntervalSec))
	}

	if cfg.BOC.Enabled {
		bank = ratelimit.Wrap(boc.New(boc.Config{
			URL:      cfg.BOC.Endpoint,
			Currency: cfg.BOC.Currency,
			Unit:     cfg.BOC.Unit,
		}, hc), 0, 0, seconds(cfg.BOC.MinRequestIntervalSec))
	} else {
		log.Warn("bank source disabled; rates will come from the mid-rate fallback")
	}

	if cfg.ExchangeRate.Enabled {
		er := cfg.ExchangeRate
		mid = ratelimit.Wrap(exchangerate.New(exchangerate.Config{URL: er.Endpoint, APIKey: er.APIKey}, hc),
			er.MaxRequestsPerMinute, er.Burst, 0)
		if er.CacheTTLSeconds > 0 {
			mid = &cache.Source{
				S:            mid,
				TTL:          seconds(er.CacheTTLSeconds),
				MaxItems:     er.CacheMaxItems,
				FetchTimeout: seconds(cfg.Sources.TimeoutSec),
			}
		}
	} else {
		log.Warn("mid-rate source disabled; no fallback when the bank is down")
	}
	return index, bank, mid, nil
}

// Engine builds a market engine from cfg.
func Engine(cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*market.Engine, error) {
	pair, err := source.ParsePair(cfg.Sources.Pair)
	if err != nil {
		return nil, fmt.Errorf("sources.pair: %w", err)
	}
	index, bank, mid, err := Sources(cfg, log)
	if err != nil {
		return nil, err
	}
	return market.NewEngine(market.Config{
		Symbols:         cfg.Sources.IndexSymbols,
		Pair:            pair.String(),
		HistoryCapacity: cfg.History.Capacity,
		Timeout:         seconds(cfg.Sources.TimeoutSec),
		Spread: market.Spread{
			Ratio:    decimal.NewFromFloat(cfg.Spread.Ratio),
			Absolute: decimal.NewFromFloat(cfg.Spread.Absolute),
		},
	}, index, bank, mid, market.WithLogger(log), market.WithMetrics(m))
}
