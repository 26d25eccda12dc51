package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"marketstream/internal/metric"
	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/internal/stream"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultCount        = 100
	MaxCount            = 5000
	ServiceName         = "marketstream"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// StreamService is the query surface of the stream processor.
type StreamService interface {
	Running() bool
	Stats() stream.Stats
	MemoryInfo() metric.MemoryInfo
	Latest(symbol string, cat enum.Category, count int) []model.Event
}

// CandleReader reads persisted bars.
type CandleReader interface {
	Recent(ctx context.Context, symbol string, timeframeMs int64, limit int) ([]model.Candle, error)
}

// Handler serves the HTTP query surface.
type Handler struct {
	stream  StreamService
	candles CandleReader
	started time.Time
}

// NewHandler creates a handler. candles may be nil when persistence is off.
func NewHandler(stream StreamService, candles CandleReader) *Handler {
	return &Handler{
		stream:  stream,
		candles: candles,
		started: time.Now(),
	}
}

// SetupRoutes configures all routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware())
	router.Use(gin.Recovery())

	router.GET("/health", h.Health)
	router.GET("/stats", h.GetStats)
	router.GET("/memory", h.GetMemory)
	router.GET("/latest", h.GetLatest)
	router.GET("/candles", h.GetCandles)

	return router
}
