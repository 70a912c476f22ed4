package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	C "attribution/config"
	U "attribution/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// scope constants.
const SCOPE_REQ_ID = "requestId"

const HeaderRequestID = "X-Req-Id"

// RequestIdGenerator scopes the incoming request id, or a new one when it is
// absent or not a uuid, and echoes it on the response.
func RequestIdGenerator() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.Request.Header.Get(HeaderRequestID))
		if !U.IsValidUUID(reqID) {
			reqID = U.GetUUID()
		}
		U.SetScope(c, SCOPE_REQ_ID, reqID)
		c.Writer.Header().Set(HeaderRequestID, reqID)
		c.Next()
	}
}

// Logger logs every request once it is served.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logCtx := log.WithFields(log.Fields{
			"reqId":     U.GetScopeByKeyAsString(c, SCOPE_REQ_ID),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			logCtx.Error("Request failed.")
			return
		}
		logCtx.Info("Request served.")
	}
}

// Recovery turns a panic in a handler into a logged 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.WithFields(log.Fields{
					"reqId": U.GetScopeByKeyAsString(c, SCOPE_REQ_ID),
					"path":  c.Request.URL.Path,
				}).WithError(fmt.Errorf("%v", recovered)).Error("Recovered from panic.")
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// CustomCors allows local dashboards in development and every origin otherwise.
func CustomCors() gin.HandlerFunc {
	return func(c *gin.Context) {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, HeaderRequestID)

		if C.IsDevelopment() {
			corsConfig.AllowOrigins = []string{"http://localhost:8080", "http://localhost:3000", "http://localhost:8090"}
		} else {
			corsConfig.AllowAllOrigins = true
		}

		cors.New(corsConfig)(c)
		c.Next()
	}
}
