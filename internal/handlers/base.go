package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	HeaderETag    = "ETag"
	HeaderIfMatch = "If-Match"
)

// ParseID parses a positive integer path parameter
func ParseID(c echo.Context, param string) (int64, error) {
	idStr := c.Param(param)
	if idStr == "" {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "missing "+param)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be a positive integer", param)
	}

	return id, nil
}

// ParseBoolQuery reads an optional boolean query parameter. Missing means false.
func ParseBoolQuery(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s: must be true or false", name)
	}
	return value, nil
}

// ETag is the entity tag for a plan version.
func ETag(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}

// ParseIfMatch returns the version an If-Match header pins, or nil when the header is absent or "*".
func ParseIfMatch(c echo.Context) (*int, error) {
	header := strings.TrimSpace(c.Request().Header.Get(HeaderIfMatch))
	if header == "" || header == "*" {
		return nil, nil
	}
	tag := strings.Trim(strings.TrimPrefix(header, "W/"), `"`)
	version, err := strconv.Atoi(tag)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid If-Match header").AddMetaValue("if_match", header)
	}
	return &version, nil
}

// startSpan opens a span and carries it on the request.
func startSpan(c echo.Context, name string) (context.Context, func()) {
	ctx, span := tracing.StartSpan(c.Request().Context(), name)
	c.SetRequest(c.Request().WithContext(ctx))
	return ctx, func() { span.End() }
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}
