package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
	"github.com/wtthornton/HomeIQ-sub012/internal/stats"
)

// StateReporter exposes the supervisor's connection state
type StateReporter interface {
	State() domain.ConnectionState
}

// Pinger checks that the time-series store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the read-only status surface polled by external
// reporters: pipeline counters and the current connection state.
type Handler struct {
	stats      *stats.Pipeline
	connection StateReporter
	store      Pinger
	router     *gin.Engine
	log        *zap.Logger
}

func NewHandler(st *stats.Pipeline, connection StateReporter, store Pinger, log *zap.Logger) *Handler {
	h := &Handler{
		stats:      st,
		connection: connection,
		store:      store,
		router:     gin.Default(),
		log:        log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.GET("/stats", h.getStats)
	h.router.POST("/stats/reset", h.resetStats)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "unavailable",
			"connection": h.connection.State().String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"connection": h.connection.State().String(),
	})
}

// getStats handles GET /stats
func (h *Handler) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":            h.stats.Snapshot(),
		"connection_state": h.connection.State().String(),
	})
}

// resetStats handles POST /stats/reset
func (h *Handler) resetStats(c *gin.Context) {
	h.stats.Reset()
	h.log.Info("Pipeline stats reset")
	c.JSON(http.StatusOK, gin.H{
		"status": "reset",
	})
}
