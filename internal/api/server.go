// Package api 提供本地控制 API
// 通过 HTTP 启停服务、查询状态，并以 websocket 推送状态事件
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"byedpi-core/internal/core/dispose"
	"byedpi-core/internal/core/events"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/core/metrics"
	"byedpi-core/internal/health"
	"byedpi-core/internal/service"
)

// BasePath API 路径前缀
const BasePath = "/api/v1"

const (
	shutdownTimeout = 5 * time.Second
	writeTimeout    = 5 * time.Second
	pingInterval    = 30 * time.Second
	eventQueueSize  = 32
)

// Controller 控制 API 依赖的服务能力，*service.Coordinator 满足此接口
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() service.Snapshot
	Health(ctx context.Context) map[string]*health.ComponentHealth
	Subscribe(fn func(*events.StatusEvent)) (cancel func(), err error)
}

// Server 控制 API 服务器
type Server struct {
	*dispose.ServiceBase

	addr     string
	ctl      Controller
	logger   corelog.Logger
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	streams  map[*websocket.Conn]struct{}
}

// NewServer 创建控制 API 服务器，Start 之前不监听端口
func NewServer(ctx context.Context, addr string, ctl Controller, logger corelog.Logger) *Server {
	s := &Server{
		ServiceBase: dispose.NewService("APIServer", ctx),
		addr:        addr,
		ctl:         ctl,
		logger:      corelog.OrDefault(logger, "api"),
		router:      mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHost,
		},
		streams: make(map[*websocket.Conn]struct{}),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.AddCleanHandler(func() error {
		s.logger.Info("APIServer: shutting down")
		s.closeStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return s
}

// Handler 返回路由，测试时可直接挂到 httptest.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 监听并在后台提供服务，监听失败时同步返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infof("APIServer: listening on http://%s%s", ln.Addr(), BasePath)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("APIServer: serve error: %v", err)
		}
	}()
	return nil
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix(BasePath).Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugf("API: %s %s - %s", r.Method, r.RequestURI, time.Since(start))
	})
}

// ============================================================================
// 处理器
// ============================================================================

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Start(r.Context()); err != nil {
		s.logger.Warnf("APIServer: start rejected: %v", err)
		respondError(w, errorStatus(err), err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.ctl.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(r.Context()); err != nil {
		respondError(w, errorStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), shutdownTimeout)
	defer cancel()

	components := s.ctl.Health(ctx)
	overall := health.Overall(components)

	resp := HealthResponse{
		Status:     string(overall),
		Timestamp:  time.Now(),
		Service:    s.ctl.Snapshot(),
		Components: make(map[string]ComponentStatusResponse, len(components)),
	}
	for name, comp := range components {
		resp.Components[name] = ComponentStatusResponse{
			Status:    string(comp.Status),
			Message:   comp.Message,
			LastCheck: comp.LastCheck,
		}
	}
	respondJSON(w, healthStatus(overall), resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, metrics.Snapshot())
}

// handleEvents 升级为 websocket，先推送当前快照，之后推送每次状态变化
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("APIServer: websocket upgrade failed: %v", err)
		return
	}
	if !s.trackStream(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrackStream(conn)

	queue := make(chan *events.StatusEvent, eventQueueSize)
	cancel, err := s.ctl.Subscribe(func(e *events.StatusEvent) {
		select {
		case queue <- e:
		default:
			s.logger.Warnf("APIServer: event stream %s is slow, dropping %s", r.RemoteAddr, e.Status)
		}
	})
	if err != nil {
		s.logger.Warnf("APIServer: subscribe failed: %v", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeTimeout))
		return
	}
	defer cancel()

	s.logger.Debugf("APIServer: event stream opened from %s", r.RemoteAddr)

	// 读循环只用于发现对端关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeEvent(conn, MessageSnapshot, s.ctl.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-queue:
			if err := s.writeEvent(conn, MessageStatus, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			s.logger.Debugf("APIServer: event stream from %s closed", r.RemoteAddr)
			return
		case <-s.Ctx().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, kind string, data interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(EventMessage{Type: kind, Data: data}); err != nil {
		s.logger.Debugf("APIServer: event write failed: %v", err)
		return err
	}
	return nil
}

func (s *Server) trackStream(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsClosed() {
		return false
	}
	s.streams[conn] = struct{}{}
	return true
}

func (s *Server) untrackStream(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.streams, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// closeStreams 关闭所有 websocket 连接，Shutdown 不会等待被劫持的连接
func (s *Server) closeStreams() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.streams))
	for c := range s.streams {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// sameHost 只接受无 Origin 或与 Host 相同的来源
func sameHost(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
