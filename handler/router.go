package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"booksoul/internal/metrics"
)

// NewRouter wires the webhook, health and metrics routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	router.POST("/telegram/webhook", h.Webhook)
	return router
}

func (h *Handler) Webhook(c *gin.Context) {
	correlation := correlationID(c.GetHeader(correlationHeader))
	c.Header(correlationHeader, correlation)
	body, err := c.GetRawData()
	if err != nil {
		h.log.Warn("read webhook body failed", "correlationId", correlation, "err", err)
		c.JSON(http.StatusOK, ackResponse{OK: true, Ignored: true})
		return
	}
	c.JSON(http.StatusOK, h.accept(c.Request.Context(), correlation, body))
}
