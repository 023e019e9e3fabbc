package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koinu-labs/kins/inscription/log"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()
		if raw != "" {
			path = path + "?" + raw
		}
		log.Srv.Infof("method: %s, path: %s, status: %d, latency: %s, client_ip: %s, error_message: %s, body_size: %d",
			c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP(),
			c.Errors.ByType(gin.ErrorTypePrivate).String(), c.Writer.Size())
	}
}
