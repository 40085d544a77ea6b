package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"marketwatch/internal/app"
	"marketwatch/internal/config"
	"marketwatch/internal/logger"
	"marketwatch/internal/source"
)

// line is one probe result, written as a JSON line.
type line struct {
	Source  string    `json:"source"`
	Key     string    `json:"key"`
	Round   int       `json:"round"`
	At      time.Time `json:"at"`
	Latency string    `json:"latency"`
	Value   string    `json:"value,omitempty"`
	Buy     string    `json:"buy,omitempty"`
	Sell    string    `json:"sell,omitempty"`
	AsOf    time.Time `json:"as_of,omitzero"`
	Kind    string    `json:"kind,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type job struct {
	src   source.Source
	key   string
	round int
}

func main() {
	var (
		cfgPath  string
		outPath  string
		rounds   int
		interval time.Duration
		workers  int
	)
	flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.StringVar(&outPath, "out", "-", "output file for JSON lines (- for stdout)")
	flag.IntVar(&rounds, "rounds", 1, "how many times to call every source")
	flag.DurationVar(&interval, "interval", 2*time.Second, "pause between rounds")
	flag.IntVar(&workers, "concurrency", 4, "parallel calls")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal("config: %v", err)
	}
	index, bank, mid, err := app.Sources(cfg, logger.Discard())
	if err != nil {
		fatal("sources: %v", err)
	}

	var out io.Writer = os.Stdout
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			fatal("create out: %v", err)
		}
		defer f.Close()
		out = f
	}
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	var writeMu sync.Mutex

	timeout := time.Duration(cfg.Sources.TimeoutSec) * time.Second
	jobs := make(chan job, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				l := probe(j, timeout)
				writeMu.Lock()
				_ = enc.Encode(l)
				writeMu.Unlock()
			}
		}()
	}

	for r := 1; r <= rounds; r++ {
		for _, sym := range cfg.Sources.IndexSymbols {
			jobs <- job{src: index, key: sym, round: r}
		}
		if bank != nil {
			jobs <- job{src: bank, round: r}
		}
		if mid != nil {
			jobs <- job{src: mid, key: cfg.Sources.Pair, round: r}
		}
		if r < rounds {
			time.Sleep(interval)
		}
	}
	close(jobs)
	wg.Wait()
}

func probe(j job, timeout time.Duration) line {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	raw, err := j.src.Fetch(ctx, j.key)
	l := line{
		Source:  j.src.Name(),
		Key:     j.key,
		Round:   j.round,
		At:      start.UTC(),
		Latency: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		l.Kind = string(source.Classify(err))
		l.Error = err.Error()
		return l
	}
	if !raw.Value.IsZero() {
		l.Value = raw.Value.String()
	}
	if !raw.Buy.IsZero() || !raw.Sell.IsZero() {
		l.Buy, l.Sell = raw.Buy.String(), raw.Sell.String()
	}
	l.AsOf = raw.AsOf
	return l
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
