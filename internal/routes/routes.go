package routes

import (
	"pokersettle/internal/handlers"
	"pokersettle/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Options configures SetupRouter.
type Options struct {
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// SetupRouter initializes and returns the Gin router with all routes configured.
func SetupRouter(opts Options, settlements *handlers.SettlementHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	r.Any("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})

	r.Use(corsMiddleware(opts.AllowedOrigins))

	SetupSettlementRoutes(r, settlements, opts.RateLimit)

	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, Cache-Control, X-Requested-With, "+middleware.UserHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
