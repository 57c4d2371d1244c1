package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/backend/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	userIDContextKey    = "jotter_user_id"
	requestIDContextKey = "jotter_request_id"
	requestIDHeader     = "X-Request-ID"
	accessTokenQueryKey = "access_token"
)

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			if generated, err := uuid.NewV7(); err == nil {
				requestID = generated.String()
			}
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(requestIDContextKey)))
	}
}

// authorizeRequest resolves the Authorization bearer token to a user id.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.sessions.ValidateRequest(c.Request)
	h.completeAuthorization(c, userID, err)
}

// authorizeStream also accepts an access_token query parameter, since
// EventSource clients cannot set headers. The header wins when both are sent.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	if _, ok := auth.BearerToken(c.GetHeader("Authorization")); ok {
		h.authorizeRequest(c)
		return
	}
	userID, err := h.sessions.ValidateToken(c.Query(accessTokenQueryKey))
	h.completeAuthorization(c, userID, err)
}

func (h *httpHandler) completeAuthorization(c *gin.Context, userID string, err error) {
	switch {
	case err == nil:
		c.Set(userIDContextKey, userID)
		c.Next()
		return
	case errors.Is(err, auth.ErrMissingSessionToken):
		respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, "No token")
		return
	case errors.Is(err, auth.ErrExpiredSessionToken):
		h.logger.Info("token validation failed", zap.Error(err))
	default:
		h.logger.Warn("token validation failed", zap.Error(err))
	}
	respondError(c, http.StatusUnauthorized, errorCodeUnauthorized, "Invalid token")
}

// ipRateLimiter keeps one token bucket per client address.
type ipRateLimiter struct {
	limiters    sync.Map
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
	lastCleanup time.Time
}

func newIPRateLimiter(requestsPerMinute int) *ipRateLimiter {
	return &ipRateLimiter{
		limit:       rate.Limit(float64(requestsPerMinute) / time.Minute.Seconds()),
		burst:       requestsPerMinute,
		lastCleanup: time.Now(),
	}
}

func (rl *ipRateLimiter) limiterFor(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)
	rl.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops idle buckets at most every five minutes.
func (rl *ipRateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()
	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

func (rl *ipRateLimiter) middleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.limiterFor(c.ClientIP())
		if limiter.Allow() {
			c.Next()
			return
		}
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()

		retryAfter := max(int(delay.Seconds()), 1)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		logger.Warn("rate limit exceeded",
			zap.String("client_ip", c.ClientIP()),
			zap.String("route", c.FullPath()),
			zap.Int("retry_after", retryAfter))
		respondError(c, http.StatusTooManyRequests, errorCodeRateLimited, "Too many requests. Please try again later.")
	}
}
