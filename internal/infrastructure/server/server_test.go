package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/grpc/appmgr"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/config"
)

func testProfile(t *testing.T) (*config.Profile, string) {
	t.Helper()
	hash, err := permission.HashSecret("s3cret", bcrypt.MinCost)
	require.NoError(t, err)

	doc := fmt.Sprintf(`
[device]
ram_constrained = "false"
app_memory_mb = 384

[[bundles]]
name = "com.example.mail"
uid = 20010001
clones = [1]

[[callers]]
id = "admin"
bundle_name = "com.example.settings"
token_hash = %q
permissions = [
  "ohos.permission.RUNNING_STATE_OBSERVER",
  "ohos.permission.KILL_APP_PROCESSES",
  "ohos.permission.GET_RUNNING_INFO",
]
`, hash)
	p, err := config.ParseProfile([]byte(doc))
	require.NoError(t, err)
	return p, "admin.s3cret"
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.Host.ControlEnabled = true
	cfg.Server.ShutdownTimeout = 2 * time.Second

	profile, token := testProfile(t)
	s, err := New(cfg, profile, nil, WithMemorySource(func(context.Context) (uint64, error) {
		return 8 << 30, nil
	}))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, token
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProfileWiring(t *testing.T) {
	s, token := newTestServer(t)

	_, err := s.Host().Launch(host.LaunchRequest{BundleName: "com.example.mail"})
	require.NoError(t, err)

	w := get(t, s.Handler(), "/v1/device", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stabilityTest":false,"ramConstrained":false,"appMemorySizeMB":384}`, w.Body.String())

	w = get(t, s.Handler(), "/v1/apps/com.example.mail/running?cloneIndex=2", token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "16000073")

	w = get(t, s.Handler(), "/v1/processes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processes":[]}`, w.Body.String())

	w = get(t, s.Handler(), "/v1/processes", "admin.wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, token := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/health/live", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s.Handler(), "/health/ready", "").Code,
		"not ready before serving")

	get(t, s.Handler(), "/v1/device", token)
	w := get(t, s.Handler(), "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "appmgr_http_requests_total")
	assert.Contains(t, body, `operation="IsRamConstrainedDevice"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServeAndShutdown(t *testing.T) {
	s, token := newTestServer(t)

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, httpLis, grpcLis) }()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	hc := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: appmgr.ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client, err := appmgr.Dial(grpcLis.Addr().String(), appmgr.WithToken(token, false))
	require.NoError(t, err)
	defer client.Close()

	detached := make(chan struct{})
	_, err = client.RegisterObserver(context.Background(), appmanager.ObserverFuncs{Detached: func() { close(detached) }})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	select {
	case <-detached:
	case <-time.After(5 * time.Second):
		t.Fatal("observer stream not ended by shutdown")
	}
}
