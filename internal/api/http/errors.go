package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Code  int32  `json:"code"`
	Error string `json:"error"`
}

// StatusOf maps a contract error code to an HTTP status.
func StatusOf(code appmanager.Code) int {
	switch code {
	case appmanager.CodePermissionDenied:
		return http.StatusForbidden
	case appmanager.CodeInvalidParam, appmanager.CodeInvalidCloneIndex:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError aborts the request with the JSON form of err.
func WriteError(c *gin.Context, op string, err error) {
	e := appmanager.AsError(op, err)
	c.AbortWithStatusJSON(StatusOf(e.Code), ErrorBody{Code: int32(e.Code), Error: e.Error()})
}
