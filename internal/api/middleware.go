package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// ZerologLogger is a Gin middleware that logs requests using zerolog.
// Successful requests whose path starts with one of quietPrefixes are logged
// at debug level; clients poll /status every couple of seconds.
func ZerologLogger(quietPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		evt := levelFor(status, path, quietPrefixes)
		if raw != "" {
			path = path + "?" + raw
		}
		if id := c.Param("id"); id != "" {
			evt = evt.Str("task_id", id)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}

		evt.
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", path).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Str("user_agent", c.Request.UserAgent()).
			Msg("http request completed")
	}
}

func levelFor(status int, path string, quietPrefixes []string) *zerolog.Event {
	switch {
	case status >= statusErrorThreshold:
		return log.Error()
	case status >= statusWarnThreshold:
		return log.Warn()
	}
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return log.Debug()
		}
	}
	return log.Info()
}
