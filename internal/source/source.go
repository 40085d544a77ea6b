package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Raw is the normalized value returned by every source.
// Index and mid-rate sources fill Value; bank sources fill Buy and Sell.
type Raw struct {
	Value decimal.Decimal
	Buy   decimal.Decimal
	Sell  decimal.Decimal
	AsOf  time.Time
}

// Source is one upstream capability. Implementations must honor ctx and
// must not retry internally.
//
//go:generate mockgen -package=mocks -destination=mocks/mock_source.go -source=source.go Source
type Source interface {
	Name() string
	Fetch(ctx context.Context, key string) (Raw, error)
}

// Result pairs a fetch outcome with its error so it can be handed around as a value.
type Result struct {
	Raw Raw
	Err error
}

func (r Result) OK() bool { return r.Err == nil }

// Kind classifies a failed fetch.
type Kind string

const (
	KindRateLimited Kind = "RATE_LIMITED"
	KindUnreachable Kind = "UNREACHABLE"
	KindParseFailed Kind = "PARSE_FAILED"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnreachable = errors.New("unreachable")
	ErrParseFailed = errors.New("parse failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindParseFailed:
		return ErrParseFailed
	default:
		return ErrUnreachable
	}
}

// FetchError is the only error type sources return.
type FetchError struct {
	Source string
	Kind   Kind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, strings.ToLower(string(e.Kind)))
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, strings.ToLower(string(e.Kind)), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRateLimited) match on the kind.
func (e *FetchError) Is(target error) bool { return target == e.Kind.sentinel() }

func RateLimited(src string, err error) error {
	return &FetchError{Source: src, Kind: KindRateLimited, Err: err}
}

func Unreachable(src string, err error) error {
	return &FetchError{Source: src, Kind: KindUnreachable, Err: err}
}

func ParseFailed(src string, err error) error {
	return &FetchError{Source: src, Kind: KindParseFailed, Err: err}
}

// FromStatus maps a non-2xx HTTP status to a FetchError.
func FromStatus(src string, code int, body string) error {
	err := fmt.Errorf("http %d: %s", code, strings.TrimSpace(body))
	if code == http.StatusTooManyRequests {
		return RateLimited(src, err)
	}
	return Unreachable(src, err)
}

// Classify returns the kind of err. Errors that did not come from a source
// are treated as network failures.
func Classify(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnreachable
}

// Pair is a currency pair such as USD/CNY.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// ParsePair accepts "USD/CNY", "USD-CNY" and "USDCNY".
func ParsePair(s string) (Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"/", "-", "_"} {
		if b, q, ok := strings.Cut(s, sep); ok {
			if len(b) == 3 && len(q) == 3 {
				return Pair{Base: b, Quote: q}, nil
			}
			return Pair{}, fmt.Errorf("invalid currency pair %q", s)
		}
	}
	if len(s) == 6 {
		return Pair{Base: s[:3], Quote: s[3:]}, nil
	}
	return Pair{}, fmt.Errorf("invalid currency pair %q", s)
}
