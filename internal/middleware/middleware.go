package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"pinabook/internal/auth"
	apperrors "pinabook/internal/errors"
	"pinabook/internal/logger"
	"pinabook/internal/metrics"
	"pinabook/internal/models"
)

const (
	RequestIDHeader = "X-Request-ID"
	identityKey     = "identity"
)

// CORS middleware для обработки CORS запросов
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}

		c.Next()
	}
}

// RequestID присваивает запросу идентификатор и кладет его в контекст
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = logger.NewRequestID()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// Timeout bounds the request context. Handlers observe it through
// c.Request.Context().
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Logger middleware для структурированного логирования запросов
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Записываем время начала
		start := time.Now()

		// Выполняем запрос
		c.Next()

		// Логируем результат
		latency := time.Since(start)
		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		}

		log := logger.WithContext(c.Request.Context())
		if c.Writer.Status() >= 500 {
			if len(c.Errors) > 0 {
				logFields = append(logFields, "error", c.Errors.String())
			}
			log.Error("Request completed with error", logFields...)
			return
		}
		if c.Writer.Status() >= 400 {
			if len(c.Errors) > 0 {
				logFields = append(logFields, "error", c.Errors.String())
			}
			log.Warn("Request rejected", logFields...)
			return
		}
		log.Debug("Request completed", logFields...)
	}
}

// Recovery middleware для восстановления после паники с детальным логированием
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithContext(c.Request.Context()).Error("PANIC recovered",
			"panic", recovered,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)

		// Отправляем правильный HTTP ответ клиенту
		if !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
				Error: "Internal server error",
			})
		}
	})
}

// Metrics records request latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Authenticate проверяет bearer-токен и кладет Identity в контекст запроса
func Authenticate(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Header("WWW-Authenticate", `Bearer realm="pinabook"`)
			abort(c, apperrors.Unauthorized("missing bearer token"))
			return
		}

		id, err := a.Authenticate(c.Request.Context(), header)
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="pinabook", error="invalid_token"`)
			abort(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(auth.ContextWithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireRole пропускает только указанные роли. Admin допускается всегда.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			abort(c, apperrors.Unauthorized("authentication required"))
			return
		}
		if id.IsAdmin() {
			c.Next()
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		abort(c, apperrors.Forbidden("role "+string(id.Role)+" may not call this endpoint"))
	}
}

// Identity returns the caller set by Authenticate.
func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// RateLimiter keeps one token bucket per caller. Authenticated callers are
// keyed by user id, anonymous ones by client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: map[string]*visitor{},
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (rl *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = now

	// чистим давно неактивных
	if len(rl.limiters) > 10000 {
		for k, other := range rl.limiters {
			if now.Sub(other.lastSeen) > rl.idle {
				delete(rl.limiters, k)
			}
		}
	}
	return v.limiter
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if id, ok := Identity(c); ok {
			key = id.UserID
		}
		if !rl.get(key, time.Now()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	typed, ok := apperrors.As(err)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	status := http.StatusUnauthorized
	if typed.Kind == apperrors.KindForbidden {
		status = http.StatusForbidden
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: typed.Message, Kind: string(typed.Kind)})
}
