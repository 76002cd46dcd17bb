package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

// quietPrefixes are polled by orchestrators and scrapers and would drown the request log.
var quietPrefixes = []string{"/api/v1/health", "/metrics"}

// Logger writes one line per request once the response is complete. 5xx log at error, 4xx at
// warn, everything else at info.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			path := c.Request().URL.Path
			for _, prefix := range quietPrefixes {
				if strings.HasPrefix(path, prefix) {
					return nil
				}
			}

			ctx := c.Request().Context()
			res := c.Response()
			log := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":  appctx.GetRequestID(ctx),
				"user_id":     appctx.GetUserID(ctx),
				"method":      c.Request().Method,
				"route":       c.Path(),
				"path":        path,
				"status":      res.Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       res.Size,
				"remote_ip":   c.RealIP(),
			})

			switch {
			case res.Status >= http.StatusInternalServerError:
				log.Error("Request completed")
			case res.Status >= http.StatusBadRequest:
				log.Warn("Request completed")
			default:
				log.Info("Request completed")
			}
			return nil
		}
	}
}
