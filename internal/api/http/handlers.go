package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
)

// Handlers serves the application manager contract over JSON.
type Handlers struct {
	svc     appmanager.Service
	checker *permission.Checker
	control HostControl
	logger  *zap.Logger
}

// NewHandlers creates the handler set. checker may be nil, which disables the
// audit endpoint.
func NewHandlers(svc appmanager.Service, checker *permission.Checker, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, checker: checker, logger: logger}
}

// WithHostControl enables the /v1/host endpoints.
func (h *Handlers) WithHostControl(control HostControl) *Handlers {
	h.control = control
	return h
}

// Register mounts the API routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.GET("/processes", h.GetRunningProcessInformation)
	v1.GET("/apps/:bundle/running", h.IsAppRunning)
	v1.POST("/apps/:bundle/kill", h.KillProcessesByBundleName)
	v1.GET("/device", h.GetDevice)
	v1.DELETE("/observers/:id", h.UnregisterObserver)
	if h.checker != nil {
		v1.GET("/permissions/audit", h.GetAudit)
	}

	if h.control != nil {
		hc := v1.Group("/host")
		hc.POST("/processes", h.LaunchProcess)
		hc.PUT("/processes/:pid/state", h.TransitionProcess)
		hc.DELETE("/processes/:pid", h.ExitProcess)
	}
}

// GetRunningProcessInformation lists the processes visible to the caller.
func (h *Handlers) GetRunningProcessInformation(c *gin.Context) {
	infos, err := h.svc.GetRunningProcessInformation(c.Request.Context())
	if err != nil {
		WriteError(c, appmanager.OpGetRunningProcessInformation, err)
		return
	}
	if infos == nil {
		infos = []appmanager.ProcessInformation{}
	}
	c.JSON(http.StatusOK, gin.H{"processes": infos})
}

// IsAppRunning reports whether a bundle, or one clone of it, has a process.
func (h *Handlers) IsAppRunning(c *gin.Context) {
	op := appmanager.OpIsAppRunning
	bundle := c.Param("bundle")

	var opts []appmanager.Option
	if raw, ok := c.GetQuery("cloneIndex"); ok {
		idx, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			WriteError(c, op, appmanager.InvalidParam(op, "cloneIndex must be an integer"))
			return
		}
		opts = append(opts, appmanager.WithCloneIndex(int32(idx)))
	}

	running, err := h.svc.IsAppRunning(c.Request.Context(), bundle, opts...)
	if err != nil {
		WriteError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundleName": bundle, "running": running})
}

// KillRequest is the body of POST /v1/apps/:bundle/kill.
type KillRequest struct {
	ClearPageStack bool   `json:"clearPageStack"`
	AppIndex       *int32 `json:"appIndex"`
}

// KillProcessesByBundleName kills the processes of a bundle.
func (h *Handlers) KillProcessesByBundleName(c *gin.Context) {
	op := appmanager.OpKillProcessesByBundleName

	var req KillRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			WriteError(c, op, appmanager.InvalidParam(op, "invalid request: %v", err))
			return
		}
	}

	var opts []appmanager.Option
	if req.AppIndex != nil {
		opts = append(opts, appmanager.WithAppIndex(*req.AppIndex))
	}
	if err := h.svc.KillProcessesByBundleName(c.Request.Context(), c.Param("bundle"), req.ClearPageStack, opts...); err != nil {
		WriteError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeviceInfo answers GET /v1/device.
type DeviceInfo struct {
	StabilityTest   bool `json:"stabilityTest"`
	RAMConstrained  bool `json:"ramConstrained"`
	AppMemorySizeMB int  `json:"appMemorySizeMB"`
}

// GetDevice returns the three device queries in one response.
func (h *Handlers) GetDevice(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		info DeviceInfo
		err  error
	)

	if info.StabilityTest, err = h.svc.IsRunningInStabilityTest(ctx); err != nil {
		WriteError(c, appmanager.OpIsRunningInStabilityTest, err)
		return
	}
	if info.RAMConstrained, err = h.svc.IsRamConstrainedDevice(ctx); err != nil {
		WriteError(c, appmanager.OpIsRamConstrainedDevice, err)
		return
	}
	if info.AppMemorySizeMB, err = h.svc.GetAppMemorySize(ctx); err != nil {
		WriteError(c, appmanager.OpGetAppMemorySize, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// UnregisterObserver drops an observer registered over the event stream.
func (h *Handlers) UnregisterObserver(c *gin.Context) {
	op := appmanager.OpUnregisterObserver
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		WriteError(c, op, appmanager.InvalidParam(op, "observer id must be an integer"))
		return
	}
	if err := h.svc.UnregisterObserver(c.Request.Context(), appmanager.ObserverIDFrom(int32(id))); err != nil {
		WriteError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const opAudit = "GetPermissionAudit"

// GetAudit returns recent permission decisions. Callers see their own; holders
// of GET_RUNNING_INFO may ask for any caller with ?caller=.
func (h *Handlers) GetAudit(c *gin.Context) {
	caller := appmanager.CallerFrom(c.Request.Context())
	if caller.Anonymous() {
		WriteError(c, opAudit, appmanager.PermissionDenied(opAudit, appmanager.PermissionGetRunningInfo))
		return
	}

	target := caller.ID
	if q, ok := c.GetQuery("caller"); ok && q != caller.ID {
		if !h.checker.Has(caller, appmanager.PermissionGetRunningInfo) {
			WriteError(c, opAudit, appmanager.PermissionDenied(opAudit, appmanager.PermissionGetRunningInfo))
			return
		}
		target = q
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(c, opAudit, appmanager.InvalidParam(opAudit, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries := h.checker.Audit(target, limit)
	c.JSON(http.StatusOK, gin.H{"caller": target, "entries": entries})
}
