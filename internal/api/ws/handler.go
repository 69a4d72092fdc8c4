package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/appmanager/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/shared/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hello is the first frame of every stream.
type Hello struct {
	ObserverID int32  `json:"observerId"`
	StreamID   string `json:"streamId"`
}

// Handler streams observer events over WebSocket connections.
type Handler struct {
	svc      appmanager.Service
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. metrics may be nil.
func NewHandler(svc appmanager.Service, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:     svc,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Origins are enforced by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts the stream endpoint on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/v1/observers/stream", h.ServeObserver)
}

// ServeObserver registers an observer for the lifetime of the connection.
// Repeated ?bundle= parameters form the allow-list. Registration failures are
// answered as plain JSON errors before the upgrade.
func (h *Handler) ServeObserver(c *gin.Context) {
	op := appmanager.OpRegisterObserver
	ctx := c.Request.Context()

	p := newPeer(h)
	obsID, err := h.svc.RegisterObserver(ctx, p, c.QueryArray("bundle")...)
	if err != nil {
		apihttp.WriteError(c, op, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		h.release(ctx, obsID)
		return
	}
	defer conn.Close()

	streamID := id.NewStreamID()
	log := h.logger.With(zap.String("stream_id", streamID.String()), zap.Stringer("observer_id", obsID))
	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	p.conn = conn
	if err := p.write(Hello{ObserverID: obsID.Value(), StreamID: streamID.String()}, "hello"); err != nil {
		h.release(ctx, obsID)
		return
	}
	p.open()
	defer p.close()
	log.Info("Observer stream opened")

	gone := make(chan struct{})
	go p.readPump(gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.detached:
			log.Info("Observer unregistered, closing stream")
			p.control(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "observer unregistered"))
			return
		case <-p.failed:
			log.Debug("Observer stream write failed", zap.Error(p.err))
			h.release(ctx, obsID)
			return
		case <-gone:
			log.Info("Observer stream closed by peer")
			h.release(ctx, obsID)
			return
		case <-ctx.Done():
			h.release(ctx, obsID)
			return
		case <-ticker.C:
			if err := p.control(websocket.PingMessage, nil); err != nil {
				h.release(ctx, obsID)
				return
			}
		}
	}
}

func (h *Handler) release(ctx context.Context, obsID appmanager.ObserverID) {
	ctx = context.WithoutCancel(ctx)
	if err := h.svc.UnregisterObserver(ctx, obsID); err != nil && !appmanager.IsBusiness(err) {
		h.logger.Warn("Failed to release observer", zap.Stringer("observer_id", obsID), zap.Error(err))
	}
}

// peer is the observer registered on behalf of one connection. Events wait
// for the hello frame before they are written.
type peer struct {
	appmanager.EventFunc

	h    *Handler
	conn *websocket.Conn

	ready    chan struct{}
	detached chan struct{}
	failed   chan struct{}

	detachOnce sync.Once
	failOnce   sync.Once
	err        error

	mu     sync.Mutex // one writer at a time
	closed bool
}

func newPeer(h *Handler) *peer {
	p := &peer{
		h:        h,
		ready:    make(chan struct{}),
		detached: make(chan struct{}),
		failed:   make(chan struct{}),
	}
	p.EventFunc = p.send
	return p
}

func (p *peer) open() { close(p.ready) }

func (p *peer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// OnDetached implements appmanager.Detacher.
func (p *peer) OnDetached() {
	p.detachOnce.Do(func() { close(p.detached) })
}

func (p *peer) send(ev appmanager.Event) {
	select {
	case <-p.ready:
	case <-p.detached:
		return
	}
	if err := p.write(ev, string(ev.Kind)); err != nil {
		p.failOnce.Do(func() {
			p.err = err
			close(p.failed)
		})
	}
}

func (p *peer) write(v any, kind string) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if p.h.metrics != nil {
		p.h.metrics.RecordWSMessage("out", kind)
	}
	return nil
}

func (p *peer) control(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	return p.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

// readPump consumes client frames so pongs and close frames are processed.
// The stream is one-way; client payloads are discarded.
func (p *peer) readPump(gone chan<- struct{}) {
	defer close(gone)
	p.conn.SetReadLimit(512)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
		if p.h.metrics != nil {
			p.h.metrics.RecordWSMessage("in", "ignored")
		}
	}
}
