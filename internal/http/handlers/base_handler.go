// README: Base handler utilities (JSON helpers, error mapping, request parsing).
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trigo/internal/apperr"
	"trigo/internal/http/middleware"
	"trigo/internal/types"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

// isValidID accepts uuid-shaped ids and the shorter ids used by seeded fixtures.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeAppError maps classified errors to status codes. Anything else is a 500.
func writeAppError(c *gin.Context, log logrus.FieldLogger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		log.WithError(err).WithFields(logrus.Fields{
			"route":      c.FullPath(),
			"request_id": middleware.GetRequestID(c),
		}).Error("request failed")
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(e, apperr.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(e, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(e, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(e, apperr.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(c, status, errorResponse{Error: e.Message, Reason: e.Reason, Detail: presentDetail(e.Detail)})
}

// rideIDParam reads and validates the :id path parameter.
func rideIDParam(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid ride id")
		return "", false
	}
	return types.ID(id), true
}

// bindJSON decodes the body; an empty body decodes to the zero value.
func bindJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func queryFloat(c *gin.Context, key string) (float64, bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperr.Validation(key + " must be a number")
	}
	return v, true, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(key + " must be an integer")
	}
	return v, nil
}

// pointFrom builds a coordinate only when both halves are present.
func pointFrom(lat, lng *float64) *types.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.Point{Lat: *lat, Lng: *lng}
}
