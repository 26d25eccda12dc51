package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/internal/candle"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	status, code := "OK", http.StatusOK
	if !h.stream.Running() {
		status, code = "STOPPED", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"service":   ServiceName,
		"uptime":    time.Since(h.started).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stream.Stats())
}

// GetMemory handles GET /memory.
func (h *Handler) GetMemory(c *gin.Context) {
	c.JSON(http.StatusOK, h.stream.MemoryInfo())
}

// GetLatest handles GET /latest?symbol=&category=&count=.
func (h *Handler) GetLatest(c *gin.Context) {
	symbol, err := parseSymbol(c.Query("symbol"))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest)
		return
	}
	cat, ok := enum.ParseCategory(c.DefaultQuery("category", "trade"))
	if !ok {
		h.handleError(c, errors.Wrapf(exception.ErrInvalidArgument, "category %q", c.Query("category")), http.StatusBadRequest)
		return
	}
	count, err := parseCount(c.Query("count"))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest)
		return
	}

	c.JSON(http.StatusOK, h.stream.Latest(symbol, cat, count))
}

// GetCandles handles GET /candles?symbol=&timeframe=&limit=.
func (h *Handler) GetCandles(c *gin.Context) {
	if h.candles == nil {
		h.handleError(c, errors.New("candle persistence disabled"), http.StatusNotFound)
		return
	}
	symbol, err := parseSymbol(c.Query("symbol"))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest)
		return
	}
	tf, err := candle.ParseTimeframe(c.DefaultQuery("timeframe", "1m"))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest)
		return
	}
	limit, err := parseCount(c.Query("limit"))
	if err != nil {
		h.handleError(c, err, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	candles, err := h.candles.Recent(ctx, symbol, tf.Millis(), limit)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, candles)
}

func parseSymbol(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 0 || len(s) > 32 {
		return "", errors.Wrapf(exception.ErrInvalidArgument, "symbol %q", s)
	}
	return s, nil
}

func parseCount(s string) (int, error) {
	if len(s) == 0 {
		return DefaultCount, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > MaxCount {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "count %q", s)
	}
	return n, nil
}

func (h *Handler) handleError(c *gin.Context, err error, statusCode int) {
	requestID := c.GetString(RequestIDContextKey)
	if statusCode >= http.StatusInternalServerError {
		logs.Errorf("[%s] %s %s, err: %+v", requestID, c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(statusCode, gin.H{
		"error":      err.Error(),
		"request_id": requestID,
	})
}
