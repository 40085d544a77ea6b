package api

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketwatch/internal/logger"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/scheduler"
	"marketwatch/internal/source"
	"marketwatch/internal/source/mocks"
)

var t0 = time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)

func init() { gin.SetMode(gin.TestMode) }

// newEngine returns an engine that has completed one fully primary cycle
// followed by one where the bank was down.
func newEngine(t *testing.T) *market.Engine {
	t.Helper()
	ctrl := gomock.NewController(t)
	index := mocks.NewMockSource(ctrl)
	bank := mocks.NewMockSource(ctrl)
	mid := mocks.NewMockSource(ctrl)
	index.EXPECT().Name().Return("yahoo").AnyTimes()
	bank.EXPECT().Name().Return("boc").AnyTimes()
	mid.EXPECT().Name().Return("exchangerate").AnyTimes()

	index.EXPECT().Fetch(gomock.Any(), "^NDX").Return(source.Raw{Value: decimal.NewFromInt(18000), AsOf: t0}, nil)
	index.EXPECT().Fetch(gomock.Any(), "^NDX").Return(source.Raw{Value: decimal.NewFromInt(18100), AsOf: t0.Add(time.Minute)}, nil)
	bank.EXPECT().Fetch(gomock.Any(), "").Return(source.Raw{Buy: decimal.RequireFromString("7.10"), Sell: decimal.RequireFromString("7.14"), AsOf: t0}, nil)
	bank.EXPECT().Fetch(gomock.Any(), "").Return(source.Raw{}, source.Unreachable("boc", io.ErrUnexpectedEOF))
	mid.EXPECT().Fetch(gomock.Any(), "USD/CNY").Return(source.Raw{Value: decimal.RequireFromString("7.12"), AsOf: t0}, nil).Times(2)

	e, err := market.NewEngine(market.Config{Symbols: []string{"^NDX"}, Pair: "USD/CNY"}, index, bank, mid,
		market.WithLogger(logger.Discard()))
	require.NoError(t, err)
	e.RunCycle(testContext(t))
	e.RunCycle(testContext(t))
	return e
}

func newServer(t *testing.T, sched Scheduler) *gin.Engine {
	t.Helper()
	return NewRouter(NewHandler(newEngine(t), sched, logger.Discard()), metrics.New())
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndCORS(t *testing.T) {
	r := newServer(t, NewMockScheduler(gomock.NewController(t)))

	rec := do(r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(r, http.MethodOptions, "/api/refresh", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetSnapshot(t *testing.T) {
	r := newServer(t, NewMockScheduler(gomock.NewController(t)))

	rec := do(r, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap market.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, uint64(2), snap.Cycle)
	require.Equal(t, market.Primary, snap.Indices["^NDX"].Provenance)
	require.True(t, snap.Indices["^NDX"].Value.Equal(decimal.NewFromInt(18100)))
	require.Equal(t, market.Fallback, snap.Rate.Provenance)
	require.True(t, snap.Rate.Buy.Equal(decimal.RequireFromString("7.0488")))
	require.Contains(t, rec.Body.String(), `"buy":"7.0488"`)
}

func TestGetHistory(t *testing.T) {
	r := newServer(t, NewMockScheduler(gomock.NewController(t)))

	t.Run("index with limit", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/api/history/ndx?limit=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Symbol string         `json:"symbol"`
			Points []market.Quote `json:"points"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "^NDX", body.Symbol)
		require.Len(t, body.Points, 1)
		require.True(t, body.Points[0].Value.Equal(decimal.NewFromInt(18100)))
	})

	t.Run("pair spellings", func(t *testing.T) {
		for _, target := range []string{"/api/history/USDCNY", "/api/history/USD%2FCNY"} {
			rec := do(r, http.MethodGet, target, "")
			require.Equal(t, http.StatusOK, rec.Code, target)
			var body struct {
				Symbol string             `json:"symbol"`
				Points []market.RateQuote `json:"points"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "USD/CNY", body.Symbol)
			require.Len(t, body.Points, 2)
			require.Equal(t, market.Primary, body.Points[0].Provenance)
			require.Equal(t, market.Fallback, body.Points[1].Provenance)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/api/history/%5EDJI", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "UNKNOWN_SYMBOL")
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := do(r, http.MethodGet, "/api/history/ndx?limit=-3", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSummary_Gzip(t *testing.T) {
	r := newServer(t, NewMockScheduler(gomock.NewController(t)))

	req := httptest.NewRequest(http.MethodGet, "/api/summary", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var body struct {
		Series []struct {
			Symbol string `json:"symbol"`
			Count  int    `json:"count"`
			Change string `json:"change"`
		} `json:"series"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body.Series, 2)
	require.Equal(t, "USD/CNY", body.Series[0].Symbol)
	require.Equal(t, "^NDX", body.Series[1].Symbol)
	require.Equal(t, 2, body.Series[1].Count)
	require.Equal(t, "100", body.Series[1].Change)
}

func TestRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	sched := NewMockScheduler(ctrl)
	r := newServer(t, sched)

	t.Run("get", func(t *testing.T) {
		sched.EXPECT().Status().Return(scheduler.Status{State: scheduler.Running, IntervalSec: 60})
		rec := do(r, http.MethodGet, "/api/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"state":"RUNNING","interval_sec":60,"busy":false,"running":true,"allowed":[15,30,60,120]}`, rec.Body.String())
	})

	t.Run("put valid", func(t *testing.T) {
		sched.EXPECT().Reconfigure(15).Return(nil)
		sched.EXPECT().Status().Return(scheduler.Status{State: scheduler.Running, IntervalSec: 15})
		rec := do(r, http.MethodPut, "/api/refresh", `{"interval_sec":15}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"interval_sec":15`)
	})

	t.Run("put invalid interval", func(t *testing.T) {
		sched.EXPECT().Reconfigure(45).Return(&scheduler.ConfigError{IntervalSec: 45})
		rec := do(r, http.MethodPut, "/api/refresh", `{"interval_sec":45}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "INVALID_INTERVAL")
	})

	t.Run("put malformed", func(t *testing.T) {
		rec := do(r, http.MethodPut, "/api/refresh", `{"interval_sec":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "INVALID_BODY")
	})

	t.Run("now", func(t *testing.T) {
		sched.EXPECT().TriggerNow().Return(nil)
		require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/refresh/now", "").Code)

		sched.EXPECT().TriggerNow().Return(scheduler.ErrBusy)
		require.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/refresh/now", "").Code)
	})

	t.Run("start", func(t *testing.T) {
		sched.EXPECT().Start(30).Return(nil)
		sched.EXPECT().Status().Return(scheduler.Status{State: scheduler.Running, IntervalSec: 30})
		rec := do(r, http.MethodPost, "/api/refresh/start", `{"interval_sec":30}`)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"running":true`)

		sched.EXPECT().Start(30).Return(scheduler.ErrAlreadyRunning)
		rec = do(r, http.MethodPost, "/api/refresh/start", `{"interval_sec":30}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "ALREADY_RUNNING")

		sched.EXPECT().Start(45).Return(&scheduler.ConfigError{IntervalSec: 45})
		rec = do(r, http.MethodPost, "/api/refresh/start", `{"interval_sec":45}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "INVALID_INTERVAL")
	})

	t.Run("stop", func(t *testing.T) {
		sched.EXPECT().Stop()
		sched.EXPECT().Status().Return(scheduler.Status{State: scheduler.Stopped, IntervalSec: 30})
		rec := do(r, http.MethodPost, "/api/refresh/stop", "")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"state":"STOPPED"`)
	})
}

func TestMetricsRoute(t *testing.T) {
	r := newServer(t, NewMockScheduler(gomock.NewController(t)))
	rec := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "marketwatch_cycles_total")
}
