package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devflow-ai/devflow/pkg/models"
)

// respondError maps a service-layer error to an HTTP error response.
// Unexpected errors are logged and collapsed to a generic 500 so internal
// details never leak to clients.
func respondError(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	c.JSON(status, gin.H{"error": msg})
}

func errorStatus(err error) (int, string) {
	switch {
	case models.IsType(err, models.ErrorValidation):
		return http.StatusBadRequest, err.Error()
	case models.IsType(err, models.ErrorNotFound):
		return http.StatusNotFound, err.Error()
	case models.IsType(err, models.ErrorConflict):
		return http.StatusConflict, err.Error()
	case models.IsType(err, models.ErrorUnresolvable):
		return http.StatusUnprocessableEntity, err.Error()
	case models.IsType(err, models.ErrorCostExceeded):
		return http.StatusPaymentRequired, err.Error()
	case models.IsType(err, models.ErrorCancelled):
		return http.StatusConflict, err.Error()
	case models.IsType(err, models.ErrorTimeout):
		return http.StatusGatewayTimeout, err.Error()
	case models.IsType(err, models.ErrorProvider):
		return http.StatusBadGateway, err.Error()
	case models.IsType(err, models.ErrorTransient):
		return http.StatusServiceUnavailable, err.Error()
	default:
		slog.Error("Unexpected service error", "error", err)
		return http.StatusInternalServerError, "internal server error"
	}
}
