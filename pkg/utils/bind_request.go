package utils

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

var bodyBinder = &echo.DefaultBinder{}

// BindRequest decodes the JSON body into T and validates it. Path and query params are parsed by
// the handlers, so they never leak into T.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if c.Request().ContentLength == 0 {
		return v, httperror.NewHTTPError(http.StatusBadRequest, "request body is required")
	}

	if err := bodyBinder.BindBody(c, &v); err != nil {
		message := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}
		return v, httperror.NewHTTPError(http.StatusBadRequest, "invalid request body: "+message)
	}

	v, err := Validate(v)
	if err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}
	return v, nil
}
