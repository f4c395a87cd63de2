package routes

import (
	"pokersettle/internal/handlers"
	"pokersettle/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupSettlementRoutes sets up the settlement, attempt log and lock housekeeping routes.
func SetupSettlementRoutes(r *gin.Engine, h *handlers.SettlementHandler, limit middleware.RateLimiterConfig) {
	if limit.Key == nil {
		limit.Key = middleware.UserKey
	}

	api := r.Group("", middleware.RequireUser())

	games := api.Group("/games/:game_id")
	{
		games.POST("/settlements", middleware.RateLimiterMiddleware(limit), h.GetOrCalculate)
		games.GET("/settlements", h.List)
		games.POST("/settlements/cancel", h.CancelGame)
		games.GET("/settlement-attempts", h.ListAttempts)
	}

	settlements := api.Group("/settlements/:id")
	{
		settlements.POST("/complete", h.Complete)
		settlements.POST("/cancel", h.Cancel)
		settlements.GET("/events", h.ListEvents)
	}

	api.GET("/participants/:participant_id/settlements", h.ListForParticipant)
	api.POST("/locks/cleanup", h.CleanupLocks)
}
