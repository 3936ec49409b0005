package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus handles GET /status: free quote, open positions marked to market, equity.
func (h *Handler) GetStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	st, err := h.portfolio.Status(ctx)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "status unavailable")
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetTrades handles GET /trades?limit=N, newest first.
func (h *Handler) GetTrades(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	limit := DefaultTradesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxTradesLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "limit must be an integer between 1 and 500",
				"request_id": c.GetString(RequestIDContextKey),
			})
			return
		}
		limit = n
	}

	trades, err := h.portfolio.Trades(ctx, limit)
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "trades unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (h *Handler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	h.logger.Error("api error",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(statusCode, gin.H{"error": userMessage, "request_id": requestID})
}
