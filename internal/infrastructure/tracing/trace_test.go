package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/shared/id"
)

func newObservedTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	tracer := New("test", zap.New(core))
	t.Cleanup(tracer.Close)
	return tracer, logs
}

func TestStartSpanParenting(t *testing.T) {
	tracer, _ := newObservedTracer(t)

	root, ctx := tracer.StartSpan(context.Background(), "root")
	assert.NotEmpty(t, root.TraceID)
	assert.Empty(t, root.ParentID)
	assert.Equal(t, root.TraceID, TraceIDFrom(ctx))
	assert.Equal(t, root.SpanID, SpanIDFrom(ctx))

	child, _ := tracer.StartSpan(ctx, "child")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
}

func TestFinishLogsSpan(t *testing.T) {
	tracer, logs := newObservedTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "op")
	span.SetTag("bundle", "com.example.mail")
	tracer.Finish(span)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("span completed").Len() == 1
	}, time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("span completed").All()[0]
	assert.Equal(t, "op", entry.ContextMap()["operation"])
	assert.Equal(t, "com.example.mail", entry.ContextMap()["bundle"])
}

func TestFinishAfterClose(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "late")
	assert.NotPanics(t, func() { tracer.Finish(span) })
}

func TestHTTPMiddlewarePropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, _ := newObservedTracer(t)

	var seen id.TraceID
	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/v1/device", func(c *gin.Context) {
		seen = TraceIDFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/device", nil)
	req.Header.Set(HeaderTraceID, "trc_incoming")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, id.TraceID("trc_incoming"), seen)
	assert.Equal(t, "trc_incoming", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
}

func TestGRPCUnaryInterceptor(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	interceptor := GRPCUnaryInterceptor(tracer)

	md := metadata.Pairs("x-trace-id", "trc_remote", "x-span-id", "spn_remote")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	var gotTrace id.TraceID
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/appmanager.v1.AppManager/IsAppRunning"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			gotTrace = TraceIDFrom(ctx)
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, id.TraceID("trc_remote"), gotTrace)
}

func TestGRPCClientInterceptorInjects(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	interceptor := GRPCClientInterceptor(tracer)

	ctx := WithIDs(context.Background(), "trc_local", "")
	var out metadata.MD
	err := interceptor(ctx, "/svc/M", nil, nil, nil,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			out, _ = metadata.FromOutgoingContext(ctx)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"trc_local"}, out.Get("x-trace-id"))
	assert.Len(t, out.Get("x-span-id"), 1)
}
