package api

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bitfsorg/libpayplan-go/metrics"
)

// requestLogger records HTTP metrics and logs every request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		path := c.Path()
		if path == "" {
			path = req.URL.Path
		}
		status := c.Response().Status
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(req.Method, path).Observe(elapsed.Seconds())

		level := s.log.Debug
		if status >= 500 {
			level = s.log.Error
		}
		level("api: request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"duration", elapsed,
		)
		return nil
	}
}
