package comet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lzyats/im-dispatch/internal/hub"
	"github.com/lzyats/im-dispatch/internal/metrics"
	"github.com/lzyats/im-dispatch/pkg/store/storeiface"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type ServerOptions struct {
	// SelfAddr is the value written to the route registry, e.g. "10.0.0.12:7001".
	SelfAddr     string
	RouteTTL     time.Duration
	RouteRefresh time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	OpTimeout    time.Duration
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.RouteTTL <= 0 {
		o.RouteTTL = 60 * time.Second
	}
	if o.RouteRefresh <= 0 {
		o.RouteRefresh = o.RouteTTL / 3
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 2 * time.Second
	}
	return o
}

// Server is the gateway side of a node: it attaches client sockets to the
// local hub, keeps their routes alive and accepts pushes from other nodes.
type Server struct {
	hub    *hub.Hub
	routes storeiface.RouteStore
	opts   ServerOptions
	log    *zap.Logger
}

// NewServer accepts a nil routes store for a single-node setup.
func NewServer(h *hub.Hub, routes storeiface.RouteStore, opts ServerOptions, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{hub: h, routes: routes, opts: opts.withDefaults(), log: log}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/internal/push", s.handlePush)
}

// POST /internal/push {uid, channel, packet_json}
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var q pushReq
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if q.UID == "" {
		http.Error(w, "missing uid", http.StatusBadRequest)
		return
	}
	switch err := s.hub.Push(q.UID, []byte(q.PacketJSON)); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, hub.ErrBackpressure):
		http.Error(w, "backpressure", http.StatusTooManyRequests)
	default:
		http.Error(w, "offline", http.StatusNotFound)
	}
}

// WS: /ws?uid=u1001 (demo attach, no authentication).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		http.Error(w, "missing uid", http.StatusBadRequest)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := hub.NewConn(uid, ws, s.opts.QueueSize)
	c.Out <- []byte(`{"ok":true}`)
	if old := s.hub.Set(c); old != nil {
		_ = old.WS.Close()
	}
	metrics.GatewayConns.Set(float64(s.hub.Len()))
	s.setRoute(uid)
	s.log.Info("client attached", zap.String("uid", uid), zap.String("remote", r.RemoteAddr))

	stop := make(chan struct{})
	go s.writeLoop(c)
	go s.refreshLoop(uid, stop)
	go s.readLoop(c, stop)
}

// readLoop detects disconnects. Inbound frames are ignored.
func (s *Server) readLoop(c *hub.Conn, stop chan struct{}) {
	defer func() {
		close(stop)
		current := s.hub.Del(c)
		// No Push can reach c.Out once it is out of the hub.
		close(c.Out)
		metrics.GatewayConns.Set(float64(s.hub.Len()))
		if current {
			s.delRoute(c.UID)
		}
		s.log.Info("client detached", zap.String("uid", c.UID))
	}()
	for {
		if _, _, err := c.WS.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *hub.Conn) {
	defer func() { _ = c.WS.Close() }()
	for b := range c.Out {
		_ = c.WS.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := c.WS.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

func (s *Server) refreshLoop(uid string, stop <-chan struct{}) {
	if s.routes == nil {
		return
	}
	t := time.NewTicker(s.opts.RouteRefresh)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.setRoute(uid)
		}
	}
}

func (s *Server) setRoute(uid string) {
	if s.routes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OpTimeout)
	defer cancel()
	if err := s.routes.SetRoute(ctx, uid, s.opts.SelfAddr, s.opts.RouteTTL); err != nil {
		s.log.Warn("route refresh failed", zap.String("uid", uid), zap.Error(err))
	}
}

func (s *Server) delRoute(uid string) {
	if s.routes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OpTimeout)
	defer cancel()
	if err := s.routes.DelRoute(ctx, uid, s.opts.SelfAddr); err != nil {
		s.log.Warn("route delete failed", zap.String("uid", uid), zap.Error(err))
	}
}
