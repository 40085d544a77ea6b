// Package api serves the snapshot, history and refresh controls over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketwatch/internal/aggregate"
	"marketwatch/internal/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/scheduler"
)

// Engine is the read side of the market engine.
type Engine interface {
	Snapshot() market.Snapshot
	History(symbol string) ([]market.Quote, error)
	RateHistory() []market.RateQuote
	Symbols() []string
	Pair() string
}

//go:generate mockgen -destination=mock_scheduler_test.go -package=api . Scheduler

type Scheduler interface {
	Start(intervalSec int) error
	Stop()
	Status() scheduler.Status
	Reconfigure(intervalSec int) error
	TriggerNow() error
}

type Handler struct {
	engine Engine
	sched  Scheduler
	log    *slog.Logger
}

func NewHandler(engine Engine, sched Scheduler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: engine, sched: sched, log: log}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.UseRawPath = true
	r.Use(recovery(h.log), requestLog(h.log), cors(), limitBody())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(m.Handler()))
	h.RegisterRoutes(r.Group("/api", withGzip()))
	return r
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/snapshot", h.GetSnapshot)
	g.GET("/history/:symbol", h.GetHistory)
	g.GET("/summary", h.GetSummary)
	g.GET("/refresh", h.GetRefresh)
	g.PUT("/refresh", h.PutRefresh)
	g.POST("/refresh/now", h.PostRefreshNow)
	g.POST("/refresh/start", h.PostRefreshStart)
	g.POST("/refresh/stop", h.PostRefreshStop)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func fail(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code})
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

type historyResponse struct {
	Symbol string `json:"symbol"`
	Points any    `json:"points"`
}

// GetHistory returns the index or pair history, newest limit points when
// limit is given.
func (h *Handler) GetHistory(c *gin.Context) {
	raw := c.Param("symbol")
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	sym := aggregate.NormalizeSymbol(raw)
	if sym == h.engine.Pair() {
		c.JSON(http.StatusOK, historyResponse{Symbol: sym, Points: tail(h.engine.RateHistory(), limit)})
		return
	}
	pts, err := h.engine.History(sym)
	if errors.Is(err, market.ErrUnknownSymbol) {
		sym = strings.ToUpper(strings.TrimSpace(raw))
		pts, err = h.engine.History(sym)
	}
	if err != nil {
		fail(c, http.StatusNotFound, "UNKNOWN_SYMBOL", err.Error())
		return
	}
	c.JSON(http.StatusOK, historyResponse{Symbol: sym, Points: tail(pts, limit)})
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func (h *Handler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"series": aggregate.FromEngine(h.engine)})
}

type refreshResponse struct {
	scheduler.Status
	Running bool  `json:"running"`
	Allowed []int `json:"allowed"`
}

func (h *Handler) refreshStatus() refreshResponse {
	st := h.sched.Status()
	return refreshResponse{Status: st, Running: st.State == scheduler.Running, Allowed: scheduler.AllowedIntervals()}
}

func (h *Handler) GetRefresh(c *gin.Context) {
	c.JSON(http.StatusOK, h.refreshStatus())
}

type refreshRequest struct {
	IntervalSec int `json:"interval_sec" binding:"required"`
}

func (h *Handler) PutRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.sched.Reconfigure(req.IntervalSec); err != nil {
		if errors.Is(err, scheduler.ErrInvalidInterval) {
			fail(c, http.StatusBadRequest, "INVALID_INTERVAL", err.Error())
			return
		}
		h.log.Error("reconfigure failed", "interval_sec", req.IntervalSec, "error", err)
		fail(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	c.JSON(http.StatusOK, h.refreshStatus())
}

func (h *Handler) PostRefreshNow(c *gin.Context) {
	if err := h.sched.TriggerNow(); err != nil {
		if errors.Is(err, scheduler.ErrBusy) {
			fail(c, http.StatusConflict, "BUSY", err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted_at": time.Now().UTC()})
}

// PostRefreshStart starts the scheduler at the requested cadence. The first
// cycle runs right away.
func (h *Handler) PostRefreshStart(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.sched.Start(req.IntervalSec); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrInvalidInterval):
			fail(c, http.StatusBadRequest, "INVALID_INTERVAL", err.Error())
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			fail(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
		default:
			h.log.Error("start failed", "interval_sec", req.IntervalSec, "error", err)
			fail(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, h.refreshStatus())
}

func (h *Handler) PostRefreshStop(c *gin.Context) {
	h.sched.Stop()
	c.JSON(http.StatusOK, h.refreshStatus())
}
