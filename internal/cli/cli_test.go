package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/heptiolabs/healthcheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager/conformance"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/observer"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/device"
)

var admin = appmanager.Caller{ID: "admin", BundleName: "com.example.settings"}

// syncBuffer is written by observer goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
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
	probe := device.NewProbe(device.Config{StabilityTest: true, RAMConstrained: device.RAMConstrainedFalse, AppMemoryMB: 640},
		func(context.Context) (uint64, error) { return 8192, nil })
	svc := host.New(registry, hub, checker, catalog, probe)
	t.Cleanup(svc.Close)
	return svc
}

func run(t *testing.T, svc appmanager.Service, args ...string) (string, error) {
	t.Helper()
	out := &syncBuffer{}
	root := NewRootCommand(
		WithOutput(out),
		WithConnector(func(*globals) (appmanager.Service, func() error, error) {
			return svc, func() error { return nil }, nil
		}),
	)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPS(t *testing.T) {
	h := newHost(t)
	info, err := h.Launch(host.LaunchRequest{BundleName: "com.example.mail", ProcessName: "mail"})
	require.NoError(t, err)
	svc := conformance.Bind(h, admin)

	out, err := run(t, svc, "ps")
	require.NoError(t, err)
	assert.Contains(t, out, "PID")
	assert.Contains(t, out, "com.example.mail")
	assert.Contains(t, out, "STATE_CREATE")

	out, err = run(t, svc, "ps", "-o", "json")
	require.NoError(t, err)
	var infos []appmanager.ProcessInformation
	require.NoError(t, sonic.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, info.PID, infos[0].PID)

	out, err = run(t, svc, "ps", "-o", "yaml")
	require.NoError(t, err)
	var generic []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &generic))
	require.Len(t, generic, 1)
	assert.Equal(t, "mail", generic[0]["processName"])

	out, err = run(t, conformance.Bind(h, appmanager.Caller{}), "ps")
	require.NoError(t, err)
	assert.Contains(t, out, "No running processes.")
}

func TestKillAndRunning(t *testing.T) {
	h := newHost(t)
	_, err := h.Launch(host.LaunchRequest{BundleName: "com.example.mail", CloneIndex: 1})
	require.NoError(t, err)
	svc := conformance.Bind(h, admin)

	out, err := run(t, svc, "running", "com.example.mail", "--clone-index", "1", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"bundleName":"com.example.mail","running":true}`, out)

	_, err = run(t, svc, "running", "com.example.mail", "--clone-index", "9999")
	require.Error(t, err)
	assert.Equal(t, appmanager.CodeInvalidCloneIndex, appmanager.CodeOf(err))

	out, err = run(t, svc, "kill", "com.example.mail", "--app-index", "1", "--clear-page-stack")
	require.NoError(t, err)
	assert.Contains(t, out, "killed")

	out, err = run(t, svc, "running", "com.example.mail")
	require.NoError(t, err)
	assert.Contains(t, out, "no")

	_, err = run(t, conformance.Bind(h, appmanager.Caller{ID: "mail"}), "kill", "com.example.mail")
	require.Error(t, err)
	assert.Equal(t, appmanager.CodePermissionDenied, appmanager.CodeOf(err))
}

func TestDevice(t *testing.T) {
	svc := conformance.Bind(newHost(t), admin)

	out, err := run(t, svc, "device", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stabilityTest":true,"ramConstrained":false,"appMemorySizeMB":640}`, out)

	out, err = run(t, svc, "device")
	require.NoError(t, err)
	assert.Contains(t, out, "640")
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, conformance.Bind(newHost(t), admin), "device", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestWatch(t *testing.T) {
	h := newHost(t)
	svc := conformance.Bind(h, admin)
	out := &syncBuffer{}

	root := NewRootCommand(
		WithOutput(out),
		WithConnector(func(*globals) (appmanager.Service, func() error, error) {
			return svc, func() error { return nil }, nil
		}),
	)
	root.SetArgs([]string{"watch", "--bundle", "com.example.mail", "-o", "json"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(context.Background()) }()

	require.Eventually(t, func() bool { return h.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err := h.Launch(host.LaunchRequest{BundleName: "com.example.maps"})
	require.NoError(t, err)
	_, err = h.Launch(host.LaunchRequest{BundleName: "com.example.mail"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "processCreated") }, 5*time.Second, 10*time.Millisecond)
	assert.NotContains(t, out.String(), "com.example.maps")

	// Closing the host detaches the observer and ends the command.
	h.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after detach")
	}
}

func TestHealth(t *testing.T) {
	var ready atomic.Bool
	checks := healthcheck.NewHandler()
	checks.AddLivenessCheck("always", func() error { return nil })
	checks.AddReadinessCheck("serving", func() error {
		if !ready.Load() {
			return assert.AnError
		}
		return nil
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", checks.LiveEndpoint)
	mux.HandleFunc("/health/ready", checks.ReadyEndpoint)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	out, err := run(t, nil, "health", "--http-addr", srv.URL, "-o", "json")
	require.Error(t, err)
	var results []probeResult
	require.NoError(t, sonic.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Healthy)
	assert.False(t, results[1].Healthy)
	assert.Equal(t, http.StatusServiceUnavailable, results[1].Status)
	assert.Contains(t, results[1].Checks, "serving")

	ready.Store(true)
	out, err = run(t, nil, "health", "--http-addr", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "/health/ready")
	assert.Contains(t, out, "serving=OK")
}
