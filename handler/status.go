package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusHandler is the liveness probe.
func StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
