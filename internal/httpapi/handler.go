// Package httpapi exposes runs and stored series over a JSON HTTP API.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"CryptoHarvest/internal/forecast"
	"CryptoHarvest/internal/history"
	"CryptoHarvest/internal/indicator"
	"CryptoHarvest/internal/model"
	"CryptoHarvest/internal/pipeline"
	"CryptoHarvest/internal/recorder"
)

// Runner starts pipeline runs in the background.
type Runner interface {
	StartRun() (*pipeline.Handle, error)
}

// Handler serves the API. Forecaster may be nil when no forecast service is configured.
type Handler struct {
	runner     Runner
	recorder   recorder.Recorder
	store      history.Store
	indicators indicator.Service
	forecaster forecast.Forecaster
}

func NewHandler(runner Runner, rec recorder.Recorder, store history.Store, ind indicator.Service, fc forecast.Forecaster) *Handler {
	return &Handler{runner: runner, recorder: rec, store: store, indicators: ind, forecaster: fc}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes binds handler methods to the engine.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	api := router.Group("/api/v1")
	{
		api.POST("/runs", h.StartRun)
		api.GET("/runs/latest", h.LatestRun)
		api.GET("/series/:symbol", h.GetSeries)
		api.GET("/series/:symbol/indicators", h.GetIndicators)
		api.POST("/series/:symbol/forecast", h.PostForecast)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartRun triggers a pipeline run; 409 when one is already going.
func (h *Handler) StartRun(c *gin.Context) {
	handle, err := h.runner.StartRun()
	if pipeline.IsLocked(err) {
		errorWithStatus(c, http.StatusConflict, "a run is already in progress")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("start run failed")
		errorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": handle.RunID})
}

func (h *Handler) LatestRun(c *gin.Context) {
	report, err := h.recorder.LatestRun()
	if errors.Is(err, recorder.ErrNoRuns) {
		errorWithStatus(c, http.StatusNotFound, "no run recorded yet")
		return
	}
	if err != nil {
		errorWithStatus(c, http.StatusInternalServerError, err.Error())
		return
	}
	success(c, gin.H{"summary": report.Summary(), "report": report})
}

// GetSeries returns stored rows, optionally bounded by ?from=YYYY-MM-DD and ?limit=N
// (the latest N rows).
func (h *Handler) GetSeries(c *gin.Context) {
	symbol, rows, ok := h.loadSeries(c)
	if !ok {
		return
	}
	success(c, gin.H{"symbol": symbol, "rows": rows})
}

func (h *Handler) GetIndicators(c *gin.Context) {
	symbol, rows, ok := h.loadSeries(c)
	if !ok {
		return
	}
	points, err := h.indicators.Compute(c.Request.Context(), rows)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("indicator computation failed")
		errorWithStatus(c, http.StatusBadGateway, err.Error())
		return
	}
	success(c, gin.H{"symbol": symbol, "points": points})
}

type forecastBody struct {
	Lookback int `json:"lookback"`
	Epochs   int `json:"epochs"`
	Horizon  int `json:"horizon"`
}

func (h *Handler) PostForecast(c *gin.Context) {
	if h.forecaster == nil {
		errorWithStatus(c, http.StatusServiceUnavailable, "forecast service not configured")
		return
	}
	var body forecastBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			errorWithStatus(c, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	symbol, rows, ok := h.loadSeries(c)
	if !ok {
		return
	}

	req := forecast.Request{Rows: rows, Lookback: body.Lookback, Epochs: body.Epochs, Horizon: body.Horizon}
	res, err := h.forecaster.Forecast(c.Request.Context(), req)
	switch {
	case errors.Is(err, forecast.ErrInvalidRequest):
		errorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("symbol", symbol).Msg("forecast failed")
		errorWithStatus(c, http.StatusBadGateway, err.Error())
		return
	}
	success(c, gin.H{"symbol": symbol, "forecast": res})
}

// loadSeries reads the :symbol series applying from/limit; it writes the error
// response itself and reports ok=false on failure.
func (h *Handler) loadSeries(c *gin.Context) (string, []model.OHLCVRow, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		errorWithStatus(c, http.StatusBadRequest, "symbol is required")
		return "", nil, false
	}

	var from model.Date
	if v := c.Query("from"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			errorWithStatus(c, http.StatusBadRequest, "invalid from date")
			return "", nil, false
		}
		from = d
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errorWithStatus(c, http.StatusBadRequest, "invalid limit")
			return "", nil, false
		}
		limit = n
	}

	rows, err := h.store.Read(c.Request.Context(), symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("read series failed")
		errorWithStatus(c, http.StatusInternalServerError, err.Error())
		return "", nil, false
	}
	if len(rows) == 0 {
		errorWithStatus(c, http.StatusNotFound, "series not found")
		return "", nil, false
	}
	rows = model.FilterSince(rows, from)
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return symbol, rows, true
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func errorWithStatus(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}
