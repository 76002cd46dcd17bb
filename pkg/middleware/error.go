package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// StatusClientClosedRequest is reported when the caller went away before the response.
const StatusClientClosedRequest = 499

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// describe maps an error to status, message and meta. Anything unrecognised is a 500 with a
// generic message so internals never reach the client.
func describe(err error) (int, string, map[string]any) {
	if httperror.IsHTTPError(err) {
		he := httperror.ToHTTPError(err)
		meta := he.Meta
		if meta == nil {
			meta = map[string]any{}
		}
		return httperror.GetStatusCode(err), he.Error(), meta
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		message, ok := echoErr.Message.(string)
		if !ok {
			message = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, message, map[string]any{}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out", map[string]any{}
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled", map[string]any{}
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), map[string]any{}
}

// Error is the echo HTTPErrorHandler.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()
		code, message, meta := describe(err)

		log := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": code,
			"route":  c.Path(),
		})
		switch {
		case code >= http.StatusInternalServerError:
			log.Error("Request failed")
		case code == http.StatusForbidden || code == http.StatusConflict:
			log.Info("Request refused")
		default:
			log.Debug("Request rejected")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{
			Message:   message,
			RequestID: appctx.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
			Meta:      meta,
		})
	}
}
