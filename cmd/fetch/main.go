package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"marketwatch/internal/aggregate"
	"marketwatch/internal/app"
	"marketwatch/internal/config"
	"marketwatch/internal/market"
)

type output struct {
	Snapshot market.Snapshot     `json:"snapshot"`
	Summary  []aggregate.Summary `json:"summary"`
	Errors   map[string]string   `json:"errors,omitempty"`
}

func main() {
	var (
		configPath string
		symbolsCSV string
		pair       string
		backend    string
		timeout    int
	)
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated index tickers, e.g. ^NDX,^GSPC")
	flag.StringVar(&pair, "pair", "", "currency pair, e.g. USD/CNY")
	flag.StringVar(&backend, "backend", "", "index backend: yahoo or financego")
	flag.IntVar(&timeout, "timeout", 0, "per-source timeout seconds")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	// flags win over file and env
	if s := splitCSV(symbolsCSV); len(s) > 0 {
		cfg.Sources.IndexSymbols = s
	}
	if pair != "" {
		cfg.Sources.Pair = pair
	}
	if backend != "" {
		cfg.Sources.IndexBackend = backend
	}
	if timeout > 0 {
		cfg.Sources.TimeoutSec = timeout
	}
	cfg.Log.Output = "stdout"
	if err := cfg.Validate(); err != nil {
		fatal("config: %v", err)
	}

	log, _, err := app.Logger(cfg.Log)
	if err != nil {
		fatal("logger: %v", err)
	}
	engine, err := app.Engine(cfg, log, nil)
	if err != nil {
		fatal("engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Sources.TimeoutSec+5)*time.Second)
	defer cancel()
	out := engine.RunCycle(ctx)
	if out.Cancelled {
		fatal("refresh cycle did not finish: %v", ctx.Err())
	}

	res := output{Snapshot: engine.Snapshot(), Summary: aggregate.FromEngine(engine)}
	for sym, r := range out.Results {
		if r.Err != nil {
			if res.Errors == nil {
				res.Errors = map[string]string{}
			}
			res.Errors[sym] = r.Err.Error()
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fatal("encode: %v", err)
	}
	if len(out.Degraded()) == len(out.Results) {
		os.Exit(2)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
