package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrForbidden),
		errors.Is(err, service.ErrNotCurrentApprover),
		errors.Is(err, service.ErrSelfApproval):
		return http.StatusForbidden
	case errors.Is(err, statemachine.ErrConcurrentModification),
		errors.Is(err, statemachine.ErrInvalidTransition),
		errors.Is(err, statemachine.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, statemachine.ErrGuardFailed),
		errors.Is(err, service.ErrOverAllocation),
		errors.Is(err, service.ErrInvalidParentState),
		errors.Is(err, service.ErrTraceDepthExceeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "actor", actorFrom(c), "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// pathID parses a positive int64 path parameter
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
