package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"tradegate/internal/auth"
	"tradegate/internal/command"
	"tradegate/internal/config"
	apperrors "tradegate/internal/errors"
	"tradegate/internal/logging"
)

const roleContextKey = "caller_role"

// authMiddleware resolves the caller's role from an X-API-Key header or an
// Authorization bearer token. Requests without valid credentials never reach
// a handler.
func authMiddleware(creds *auth.CredentialStore, tokens *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := resolveRole(c, creds, tokens)
		if err != nil {
			appErr := apperrors.GetAppError(err)
			c.AbortWithStatusJSON(appErr.HTTPStatus(),
				command.Fail(appErr.Code, appErr.Message))
			return
		}
		c.Set(roleContextKey, role)
		c.Next()
	}
}

func resolveRole(c *gin.Context, creds *auth.CredentialStore, tokens *auth.JWTManager) (auth.Role, error) {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return creds.Resolve(key)
	}
	if header := c.GetHeader("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			return auth.RoleViewer, apperrors.ErrInvalidKey
		}
		return tokens.VerifyToken(token)
	}
	return auth.RoleViewer, apperrors.ErrMissingKey
}

// callerRole reads the role the auth middleware stored.
func callerRole(c *gin.Context) auth.Role {
	if value, ok := c.Get(roleContextKey); ok {
		if role, ok := value.(auth.Role); ok {
			return role
		}
	}
	return auth.RoleViewer
}

// requireRole rejects callers below the minimum role.
func requireRole(min auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerRole(c).AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				command.Fail(apperrors.ErrCodeForbidden, "forbidden"))
			return
		}
		c.Next()
	}
}

// rateLimitMiddleware keeps one token bucket per client IP. Buckets idle for
// ten minutes are discarded.
func rateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	type bucket struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for ip, b := range buckets {
				if time.Since(b.lastSeen) > 10*time.Minute {
					delete(buckets, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &bucket{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			buckets[ip] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				command.Fail(apperrors.ErrCodeRateLimit, "rate limit exceeded"))
			return
		}
		c.Next()
	}
}

// corsMiddleware allows the configured dashboard origins.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	allowAll := len(cfg.AllowedOrigins) == 0
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogMiddleware writes one structured line per request.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logging.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
			"took_ms":   time.Since(start).Milliseconds(),
		}).Debug("request handled")
	}
}
