package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "opinionsim/internal/common/errors"
	"opinionsim/internal/common/logger"
	"opinionsim/internal/common/metrics"
	"opinionsim/internal/common/observability"
)

// corsMiddleware allows the browser frontend to call the API from another
// origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogMiddleware emits one structured log line per request.
func requestLogMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request handled", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"client_ip":   c.ClientIP(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// observabilityMiddleware records per-route OTel meters in addition to the
// promauto counters the pipeline increments itself.
func observabilityMiddleware(obs *observability.Observability) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ctx := c.Request.Context()
		obs.RecordRequest(ctx, c.FullPath(), strconv.Itoa(c.Writer.Status()))
		obs.RecordDuration(ctx, c.FullPath(), time.Since(start))
	}
}

// rateLimitMiddleware rejects over-limit clients before any pipeline work
// runs. Limiter backend failures fail open.
func rateLimitMiddleware(limiter Limiter, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), clientID)
		if err != nil {
			log.WithError(err).Warn("rate limiter unavailable, allowing request",
				map[string]interface{}{"client_ip": clientID})
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejections.Inc()
			log.Warn("rate limit exceeded", map[string]interface{}{"client_ip": clientID})
			writeError(c, apperrors.NewRateLimitedError(clientID))
			c.Abort()
			return
		}
		c.Next()
	}
}
