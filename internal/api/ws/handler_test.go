package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/bundle"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/host"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/observer"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/process"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/device"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	admin = appmanager.Caller{ID: "admin", BundleName: "com.example.settings"}
	plain = appmanager.Caller{ID: "mail", BundleName: "com.example.mail"}
)

type fixture struct {
	host    *host.Service
	metrics *monitoring.Metrics
	url     string
}

func newFixture(t *testing.T, caller appmanager.Caller) *fixture {
	t.Helper()
	hub := observer.NewHub(nil, nil)
	registry := process.NewRegistry(hub)
	checker := permission.NewChecker(0)
	checker.Grant(admin.ID, appmanager.PermissionRunningStateObserver)
	catalog := bundle.NewCatalog(bundle.Entry{Name: "com.example.mail", UID: 20010001})
	probe := device.NewProbe(device.Config{RAMConstrained: device.RAMConstrainedFalse},
		func(context.Context) (uint64, error) { return 8192, nil })
	svc := host.New(registry, hub, checker, catalog, probe)
	t.Cleanup(svc.Close)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(appmanager.WithCaller(c.Request.Context(), caller))
		c.Next()
	})
	NewHandler(svc, metrics, nil).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{
		host:    svc,
		metrics: metrics,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observers/stream",
	}
}

func (f *fixture) dial(t *testing.T, query string) (*websocket.Conn, Hello) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello Hello
	readFrame(t, conn, &hello)
	require.Positive(t, hello.ObserverID)
	require.NotEmpty(t, hello.StreamID)
	return conn, hello
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, sonic.Unmarshal(data, v))
}

func TestObserverStreamDeliversEvents(t *testing.T) {
	f := newFixture(t, admin)
	conn, _ := f.dial(t, "?bundle=com.example.mail")

	info, err := f.host.Launch(host.LaunchRequest{BundleName: "com.example.maps"})
	require.NoError(t, err)
	require.NoError(t, f.host.Exit(info.PID))

	info, err = f.host.Launch(host.LaunchRequest{BundleName: "com.example.mail"})
	require.NoError(t, err)

	var ev appmanager.Event
	readFrame(t, conn, &ev)
	assert.Equal(t, appmanager.EventProcessCreated, ev.Kind)
	require.NotNil(t, ev.Process)
	assert.Equal(t, "com.example.mail", ev.Process.BundleName, "filtered bundles must not be delivered")
	assert.Equal(t, info.PID, ev.Process.PID)
}

func TestObserverStreamClosesOnUnregister(t *testing.T) {
	f := newFixture(t, admin)
	conn, hello := f.dial(t, "")

	err := f.host.UnregisterObserver(appmanager.WithCaller(context.Background(), admin), appmanager.ObserverIDFrom(hello.ObserverID))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestObserverStreamReleasedOnDisconnect(t *testing.T) {
	f := newFixture(t, admin)
	conn, hello := f.dial(t, "")
	require.True(t, f.host.Hub().Has(appmanager.ObserverIDFrom(hello.ObserverID)))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return !f.host.Hub().Has(appmanager.ObserverIDFrom(hello.ObserverID))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestObserverStreamRejectsBeforeUpgrade(t *testing.T) {
	tests := []struct {
		name       string
		caller     appmanager.Caller
		query      string
		wantStatus int
		wantCode   int32
	}{
		{"missing permission", plain, "", http.StatusForbidden, 201},
		{"invalid bundle", admin, "?bundle=", http.StatusBadRequest, 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.caller)
			_, resp, err := websocket.DefaultDialer.Dial(f.url+tt.query, nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body struct {
				Code int32 `json:"code"`
			}
			require.NoError(t, sonic.ConfigStd.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}
