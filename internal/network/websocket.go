package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// wsSocket carries one packet per WebSocket text message.
type wsSocket struct {
	conn   *websocket.Conn
	remote string
	opts   SocketOptions

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newWSSocket(conn *websocket.Conn, remote string, opts SocketOptions) *wsSocket {
	conn.SetReadLimit(int64(opts.maxFrame()))
	ctx, cancel := context.WithCancel(context.Background())
	return &wsSocket{conn: conn, remote: remote, opts: opts, ctx: ctx, cancel: cancel}
}

func (s *wsSocket) ReadFrame() ([]byte, error) {
	ctx := s.ctx
	if s.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ReadTimeout)
		defer cancel()
	}
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (s *wsSocket) WriteFrame(frame []byte) error {
	ctx := s.ctx
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

// Close starts the close handshake in the background so callers never wait
// on the peer.
func (s *wsSocket) Close() error {
	s.once.Do(func() {
		go func() {
			_ = s.conn.Close(websocket.StatusNormalClosure, "bye")
			s.cancel()
		}()
	})
	return nil
}

func (s *wsSocket) RemoteAddr() string {
	return s.remote
}

// done is closed once the socket is closed.
func (s *wsSocket) done() <-chan struct{} {
	return s.ctx.Done()
}

// DialWebSocket connects to a WebSocket game server at url, for example
// ws://localhost:7001/ws.
func DialWebSocket(ctx context.Context, url string, opts SocketOptions) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newWSSocket(conn, url, opts), nil
}

// StatusFunc reports a JSON-encodable view of the server for /status.
type StatusFunc func() any

// StartFunc begins a match on behalf of the host.
type StartFunc func(ctx context.Context) error

// startTimeout bounds a POST /start request waiting on the session.
const startTimeout = 2 * time.Second

// NewHTTPRouter serves WebSocket game connections on /ws, liveness on
// /healthz, status on /status, and the host's game start on POST /start.
//
// Precondition: manager and logger must be non-nil; status and start may be
// nil. A nil start leaves /start unrouted.
func NewHTTPRouter(manager *Manager, opts SocketOptions, status StatusFunc, start StartFunc, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		var body any = map[string]any{"connections": manager.Connected()}
		if status != nil {
			body = status()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Warn("writing status", zap.Error(err))
		}
	})
	r.Get("/ws", wsHandler(manager, opts, logger))
	if start != nil {
		r.Post("/start", startHandler(start, logger))
	}
	return r
}

func startHandler(start StartFunc, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
		defer cancel()

		code, body := http.StatusAccepted, map[string]string{"result": "starting"}
		if err := start(ctx); err != nil {
			code, body = http.StatusConflict, map[string]string{"error": err.Error()}
			if errors.Is(err, context.DeadlineExceeded) {
				code = http.StatusServiceUnavailable
			}
			logger.Info("game start refused", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Warn("writing start response", zap.Error(err))
		}
	}
}

func wsHandler(manager *Manager, opts SocketOptions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			return
		}
		sock := newWSSocket(conn, r.RemoteAddr, opts)
		id, err := manager.Add(sock)
		if err != nil {
			logger.Warn("rejecting connection",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			_ = conn.Close(websocket.StatusTryAgainLater, err.Error())
			sock.cancel()
			return
		}
		logger.Info("client connected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("conn_id", id),
			zap.String("transport", "websocket"),
		)
		<-sock.done()
	}
}

// HTTPServer runs an http.Server as a lifecycle service.
type HTTPServer struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewHTTPServer creates an HTTPServer for addr.
func NewHTTPServer(addr string, handler http.Handler, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		srv:    &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		logger: logger,
	}
}

// ListenAndServe serves until Stop is called.
func (h *HTTPServer) ListenAndServe() error {
	h.logger.Info("http server listening", zap.String("addr", h.srv.Addr))
	if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http on %s: %w", h.srv.Addr, err)
	}
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
// Hijacked WebSocket connections belong to the Manager.
func (h *HTTPServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx); err != nil {
		h.logger.Warn("http server shutdown", zap.Error(err))
	}
	h.logger.Info("http server stopped")
}
