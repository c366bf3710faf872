package api

import (
	"net/http"

	"github.com/asaidimu/go-anansi-schema/core"
	"github.com/gin-gonic/gin"
)

// statusOf maps an error kind to its HTTP status.
func statusOf(e *core.Error) int {
	switch e.Kind {
	case core.KindPermissionDenied, core.KindOperationForbidden, core.KindUnauthorized:
		return http.StatusForbidden
	case core.KindObjectNotFound:
		return http.StatusNotFound
	case core.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// abortWithError writes the {code, error} envelope. Errors outside the
// taxonomy are reported as internal without leaking their message.
func abortWithError(c *gin.Context, err error) {
	e, ok := core.AsError(err)
	if !ok {
		_ = c.Error(err)
		e = core.NewError(core.KindInternal, "Internal server error.")
	}
	c.AbortWithStatusJSON(statusOf(e), e)
}
