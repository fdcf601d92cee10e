// This package contains the implementation of a simple echo websocket server built on
// gorilla/websocket. It is used as a reference peer by the websocket client tests:
//   - echo of text and binary messages
//   - optional greeting sent when a connection opens
//   - subprotocol negotiation
//   - "Ping" texts are answered with "pong" and received "pong" texts are counted
package echowsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Structure for the websocket server
type EchoWebsocketServer struct {
	// Underlying http.Server
	httpServer *http.Server
	// Listener of the started server
	listener net.Listener
	// Websocket upgrader
	upgrader websocket.Upgrader
	// Text sent when a connection opens. Nothing is sent if empty.
	greeting string
	// Open sessions
	sessions map[string]*session
	// Protects sessions
	sessionsMu sync.Mutex
	// Number of "pong" texts received
	pongs atomic.Int64
	// Indicates that server has started
	started bool
	// Context bound to websocket server lifetime
	serverCtx context.Context
	// Cancel fucntion used to stop server
	cancelServerCtx context.CancelFunc
	// Internal mutex used to coordinate start/stop
	startMu sync.Mutex
	// Logger
	logger *zap.Logger
}

// Client session
type session struct {
	id   string
	conn *websocket.Conn
	// gorilla connections support one concurrent writer
	writeMu sync.Mutex
}

func (s *session) write(msgType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(msgType, payload)
}

// # Description
//
// Factory which creates a new, non-started EchoWebsocketServer.
//
// # Inputs
//
//   - greeting: Text sent to clients when their connection opens. Nothing is sent if empty.
//   - subprotocols: Subprotocols supported by the server, by order of preference.
//   - logger: Logger to use. If nil, a no-op logger is used.
//
// # Returns
//
// A new, non-started EchoWebsocketServer.
func NewEchoWebsocketServer(greeting string, subprotocols []string, logger *zap.Logger) *EchoWebsocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	wssrv := &EchoWebsocketServer{
		upgrader: websocket.Upgrader{Subprotocols: subprotocols},
		greeting: greeting,
		sessions: map[string]*session{},
		logger:   logger,
	}
	wssrv.httpServer = &http.Server{
		Handler:     wssrv,
		BaseContext: func(l net.Listener) context.Context { return context.Background() },
	}
	return wssrv
}

// # Description
//
// Start the websocket server on the provided address ("127.0.0.1:0" picks a free port).
func (srv *EchoWebsocketServer) Start(addr string) error {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.started {
		return fmt.Errorf("server already started")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv.listener = listener
	srv.serverCtx, srv.cancelServerCtx = context.WithCancel(context.Background())
	srv.started = true
	go func() {
		if err := srv.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Error("echo server failed", zap.Error(err))
		}
	}()
	srv.logger.Info("echo server started", zap.String("address", listener.Addr().String()))
	return nil
}

// # Description
//
// Stop the websocket server and close all client connections.
//
// # Returns
//
// Nil in case of success, an error otherwise.
func (srv *EchoWebsocketServer) Stop() error {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if !srv.started {
		return fmt.Errorf("server not started")
	}
	srv.started = false
	// Cancel server context to close all client connections
	srv.cancelServerCtx()
	return srv.httpServer.Close()
}

// Address of the started server.
func (srv *EchoWebsocketServer) Addr() string {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.listener == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

// Number of "pong" texts received by the server.
func (srv *EchoWebsocketServer) Pongs() int64 {
	return srv.pongs.Load()
}

// Number of open sessions.
func (srv *EchoWebsocketServer) SessionCount() int {
	srv.sessionsMu.Lock()
	defer srv.sessionsMu.Unlock()
	return len(srv.sessions)
}

// # Description
//
// Send a text message to every open session.
//
// # Returns
//
// The number of sessions the message was written to.
func (srv *EchoWebsocketServer) SendToAll(text string) int {
	srv.sessionsMu.Lock()
	sessions := make([]*session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.sessionsMu.Unlock()
	sent := 0
	for _, s := range sessions {
		if err := s.write(websocket.TextMessage, []byte(text)); err != nil {
			srv.logger.Warn("write failed", zap.String("session_id", s.id), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// # Description
//
// Server handler which accepts incoming websocket connections.
func (srv *EchoWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Warn("an error occured while accepting client connection", zap.Error(err))
		return
	}
	s := &session{id: uuid.NewString(), conn: c}
	logger := srv.logger.With(zap.String("session_id", s.id), zap.String("subprotocol", c.Subprotocol()))
	logger.Info("new client connection")
	srv.sessionsMu.Lock()
	srv.sessions[s.id] = s
	srv.sessionsMu.Unlock()
	if srv.greeting != "" {
		if err := s.write(websocket.TextMessage, []byte(srv.greeting)); err != nil {
			logger.Warn("failed to send greeting", zap.Error(err))
		}
	}
	// Start goroutines which will handle new client
	go srv.closeWatchdog(srv.serverCtx, s)
	go srv.runClientSession(s, logger)
}

// Manages the client session and handle echo feature until the connection is closed.
func (srv *EchoWebsocketServer) runClientSession(s *session, logger *zap.Logger) {
	defer func() {
		srv.sessionsMu.Lock()
		delete(srv.sessions, s.id)
		srv.sessionsMu.Unlock()
		s.conn.Close()
	}()
	for {
		mt, message, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				logger.Info("connection closed", zap.Int("code", ce.Code), zap.String("reason", ce.Text))
				return
			}
			logger.Info("read error", zap.Error(err))
			return
		}
		logger.Debug("message received", zap.Int("type", mt), zap.Int("length", len(message)))
		reply := message
		if mt == websocket.TextMessage {
			switch text := strings.TrimSpace(string(message)); {
			case strings.EqualFold(text, "pong"):
				srv.pongs.Add(1)
				continue
			case strings.EqualFold(text, "ping"):
				reply = []byte("pong")
			}
		}
		if err := s.write(mt, reply); err != nil {
			logger.Warn("write error", zap.Error(err))
			return
		}
	}
}

// This function waits for a cancelation signal on provided context Done channel and closes the
// session with a going away close frame.
func (srv *EchoWebsocketServer) closeWatchdog(ctx context.Context, s *session) {
	<-ctx.Done()
	_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
	s.conn.Close()
}
