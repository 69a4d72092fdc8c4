package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/observer"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/device"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	admin = appmanager.Caller{ID: "admin", BundleName: "com.example.settings"}
	plain = appmanager.Caller{ID: "mail", BundleName: "com.example.mail"}
)

// asCaller stands in for the auth middleware.
func asCaller(c appmanager.Caller) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Request = ctx.Request.WithContext(appmanager.WithCaller(ctx.Request.Context(), c))
		ctx.Next()
	}
}

func newHost(t *testing.T) *host.Service {
	t.Helper()
	hub := observer.NewHub(nil, nil)
	registry := process.NewRegistry(hub)
	checker := permission.NewChecker(0)
	checker.Grant(admin.ID,
		appmanager.PermissionRunningStateObserver,
		appmanager.PermissionKillAppProcesses,
		appmanager.PermissionGetRunningInfo,
	)
	catalog := bundle.NewCatalog(bundle.Entry{Name: "com.example.mail", UID: 20010001, Clones: []int32{1}})
	probe := device.NewProbe(device.Config{RAMConstrained: device.RAMConstrainedTrue, AppMemoryMB: 256},
		func(context.Context) (uint64, error) { return 2048, nil })
	svc := host.New(registry, hub, checker, catalog, probe)
	t.Cleanup(svc.Close)
	return svc
}

func newRouter(svc *host.Service, caller appmanager.Caller, control bool) *gin.Engine {
	h := NewHandlers(svc, svc.Checker(), nil)
	if control {
		h.WithHostControl(svc)
	}
	r := gin.New()
	if !caller.Anonymous() {
		r.Use(asCaller(caller))
	}
	h.Register(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		code appmanager.Code
		want int
	}{
		{appmanager.CodePermissionDenied, http.StatusForbidden},
		{appmanager.CodeInvalidParam, http.StatusBadRequest},
		{appmanager.CodeInvalidCloneIndex, http.StatusBadRequest},
		{appmanager.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.code))
		})
	}
}

func TestGetDevice(t *testing.T) {
	r := newRouter(newHost(t), plain, false)

	w := do(r, "GET", "/v1/device", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info DeviceInfo
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, DeviceInfo{StabilityTest: false, RAMConstrained: true, AppMemorySizeMB: 256}, info)
}

func TestGetRunningProcessInformation(t *testing.T) {
	svc := newHost(t)
	_, err := svc.Launch(host.LaunchRequest{BundleName: "com.example.mail"})
	require.NoError(t, err)
	_, err = svc.Launch(host.LaunchRequest{BundleName: "com.example.maps"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller appmanager.Caller
		want   int
	}{
		{"anonymous sees nothing", appmanager.Caller{}, 0},
		{"plain sees own", plain, 1},
		{"admin sees all", admin, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(svc, tt.caller, false), "GET", "/v1/processes", "")
			require.Equal(t, http.StatusOK, w.Code)

			var body struct {
				Processes []appmanager.ProcessInformation `json:"processes"`
			}
			require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
			assert.NotNil(t, body.Processes)
			assert.Len(t, body.Processes, tt.want)
		})
	}
}

func TestIsAppRunning(t *testing.T) {
	svc := newHost(t)
	_, err := svc.Launch(host.LaunchRequest{BundleName: "com.example.mail", CloneIndex: 1})
	require.NoError(t, err)
	r := newRouter(svc, admin, false)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   int32
		running    bool
	}{
		{"any clone", "/v1/apps/com.example.mail/running", http.StatusOK, 0, true},
		{"matching clone", "/v1/apps/com.example.mail/running?cloneIndex=1", http.StatusOK, 0, true},
		{"main clone idle", "/v1/apps/com.example.mail/running?cloneIndex=0", http.StatusOK, 0, false},
		{"invalid clone", "/v1/apps/com.example.mail/running?cloneIndex=9999", http.StatusBadRequest, 16000073, false},
		{"non numeric clone", "/v1/apps/com.example.mail/running?cloneIndex=x", http.StatusBadRequest, 401, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, "GET", tt.path, "")
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != 0 {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
				return
			}
			var body struct {
				Running bool `json:"running"`
			}
			require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.running, body.Running)
		})
	}
}

func TestIsAppRunningRequiresPermission(t *testing.T) {
	w := do(newRouter(newHost(t), plain, false), "GET", "/v1/apps/com.example.mail/running", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, int32(201), decodeError(t, w).Code)
}

func TestKillProcessesByBundleName(t *testing.T) {
	svc := newHost(t)
	_, err := svc.Launch(host.LaunchRequest{BundleName: "com.example.mail"})
	require.NoError(t, err)
	_, err = svc.Launch(host.LaunchRequest{BundleName: "com.example.mail", CloneIndex: 1})
	require.NoError(t, err)

	w := do(newRouter(svc, plain, false), "POST", "/v1/apps/com.example.mail/kill", "")
	require.Equal(t, http.StatusForbidden, w.Code)

	r := newRouter(svc, admin, false)
	w = do(r, "POST", "/v1/apps/com.example.mail/kill", `{"clearPageStack":true,"appIndex":1}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	running, err := svc.IsAppRunning(appmanager.WithCaller(context.Background(), admin), "com.example.mail", appmanager.WithCloneIndex(1))
	require.NoError(t, err)
	assert.False(t, running)
	running, err = svc.IsAppRunning(appmanager.WithCaller(context.Background(), admin), "com.example.mail", appmanager.WithCloneIndex(0))
	require.NoError(t, err)
	assert.True(t, running)

	w = do(r, "POST", "/v1/apps/com.example.mail/kill", `{"clearPageStack":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int32(401), decodeError(t, w).Code)

	w = do(r, "POST", "/v1/apps/com.example.mail/kill", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	running, err = svc.IsAppRunning(appmanager.WithCaller(context.Background(), admin), "com.example.mail")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestUnregisterObserver(t *testing.T) {
	svc := newHost(t)
	obsID, err := svc.RegisterObserver(appmanager.WithCaller(context.Background(), admin), appmanager.ObserverFuncs{})
	require.NoError(t, err)
	r := newRouter(svc, admin, false)

	w := do(r, "DELETE", "/v1/observers/"+obsID.String(), "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, "DELETE", "/v1/observers/"+obsID.String(), "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int32(401), decodeError(t, w).Code)

	w = do(r, "DELETE", "/v1/observers/abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAudit(t *testing.T) {
	svc := newHost(t)
	// One denied and one allowed decision.
	_ = svc.KillProcessesByBundleName(appmanager.WithCaller(context.Background(), plain), "com.example.mail", false)
	_, _ = svc.IsAppRunning(appmanager.WithCaller(context.Background(), admin), "com.example.mail")

	type auditBody struct {
		Caller  string                  `json:"caller"`
		Entries []permission.AuditEntry `json:"entries"`
	}

	w := do(newRouter(svc, plain, false), "GET", "/v1/permissions/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body auditBody
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "mail", body.Caller)
	require.NotEmpty(t, body.Entries)
	for _, e := range body.Entries {
		assert.Equal(t, "mail", e.CallerID)
	}
	assert.False(t, body.Entries[0].Allowed)

	w = do(newRouter(svc, plain, false), "GET", "/v1/permissions/audit?caller=admin", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(newRouter(svc, admin, false), "GET", "/v1/permissions/audit?caller=mail&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Entries, 1)

	w = do(newRouter(svc, appmanager.Caller{}, false), "GET", "/v1/permissions/audit", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHostControl(t *testing.T) {
	svc := newHost(t)

	w := do(newRouter(svc, admin, false), "POST", "/v1/host/processes", `{"bundleName":"com.example.mail"}`)
	assert.Equal(t, http.StatusNotFound, w.Code, "control routes are off by default")

	r := newRouter(svc, admin, true)
	w = do(r, "POST", "/v1/host/processes", `{"bundleName":"com.example.mail"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info appmanager.ProcessInformation
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, appmanager.StateCreate, info.State)

	pid := "/v1/host/processes/" + strconv.Itoa(int(info.PID))
	w = do(r, "PUT", pid+"/state", `{"state":"STATE_FOREGROUND"}`)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(r, "PUT", pid+"/state", `{"state":"STATE_NOPE"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "DELETE", pid, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, "DELETE", pid, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "POST", "/v1/host/processes", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, "DELETE", "/v1/host/processes/-3", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
