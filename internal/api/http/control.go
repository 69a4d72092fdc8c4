package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/host"
)

// HostControl drives the emulated process table. *host.Service implements it.
type HostControl interface {
	Launch(req host.LaunchRequest) (appmanager.ProcessInformation, error)
	Transition(pid int32, state appmanager.ProcessState) error
	Exit(pid int32) error
}

// LaunchProcess starts an emulated process.
func (h *Handlers) LaunchProcess(c *gin.Context) {
	var req host.LaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, host.OpLaunch, appmanager.InvalidParam(host.OpLaunch, "invalid request: %v", err))
		return
	}

	info, err := h.control.Launch(req)
	if err != nil {
		WriteError(c, host.OpLaunch, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// TransitionRequest is the body of PUT /v1/host/processes/:pid/state.
type TransitionRequest struct {
	State appmanager.ProcessState `json:"state"`
}

// TransitionProcess moves a process to another state. The state is given by
// name, e.g. {"state":"STATE_FOREGROUND"}.
func (h *Handlers) TransitionProcess(c *gin.Context) {
	pid, ok := h.pid(c, host.OpTransition)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteError(c, host.OpTransition, appmanager.InvalidParam(host.OpTransition, "invalid request: %v", err))
		return
	}
	if err := h.control.Transition(pid, req.State); err != nil {
		WriteError(c, host.OpTransition, err)
		return
	}
	h.logger.Debug("Process transitioned", zap.Int32("pid", pid), zap.Stringer("state", req.State))
	c.Status(http.StatusNoContent)
}

// ExitProcess destroys a process.
func (h *Handlers) ExitProcess(c *gin.Context) {
	pid, ok := h.pid(c, host.OpExit)
	if !ok {
		return
	}
	if err := h.control.Exit(pid); err != nil {
		WriteError(c, host.OpExit, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) pid(c *gin.Context, op string) (int32, bool) {
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil || pid <= 0 {
		WriteError(c, op, appmanager.InvalidParam(op, "pid must be a positive integer"))
		return 0, false
	}
	return int32(pid), true
}
