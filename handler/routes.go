package handler

import (
	C "attribution/config"

	"github.com/gin-gonic/gin"
)

const ROUTE_ATTRIBUTION_ROOT = "/attribution"

func InitAppRoutes(r *gin.Engine, services *C.Services) {
	r.GET("/status", StatusHandler)

	r.GET("/channels", GetChannelsHandler(services))
	r.PUT("/channels/:channel_id", UpdateChannelWeightHandler(services))
	r.PUT("/channels/:channel_id/modifier", UpdateChannelModifierHandler(services))

	attributionRouteGroup := r.Group(ROUTE_ATTRIBUTION_ROOT)
	attributionRouteGroup.POST("/journeys", BuildJourneysHandler(services))
	attributionRouteGroup.POST("/query", AttributionQueryHandler(services))
	attributionRouteGroup.POST("/compute", ComputeAttributionHandler(services))
	attributionRouteGroup.POST("/journey", AttributeJourneyHandler(services))
	attributionRouteGroup.POST("/simulate", SimulationHandler(services))
}
