package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bidibridge/log"

	"github.com/gorilla/websocket"
)

// Server accepts WebDriver BiDi clients over WebSocket. Every accepted
// client gets its own Bridge, and with it its own CDP connection to the
// browser; nothing is shared between clients of different connections.
type Server struct {
	logger   *log.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer builds a server from resolved options.
func NewServer(logger *log.Logger, opts Options) *Server {
	return &Server{
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsWriteBufferSize,
			WriteBufferSize: wsWriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the BiDi endpoint on /session.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	return mux
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Server:handleSession", "upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge, err := NewBridge(ctx, s.opts.BrowserWSURL.String, s.logger, s.opts.CacheDisabled.Bool)
	if err != nil {
		s.logger.Errorf("Server:handleSession", "bridge: %v", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "cannot reach browser"),
			time.Now().Add(5*time.Second))
		_ = conn.Close()
		return
	}
	defer bridge.Close()

	client := NewClientConn(ctx, bridge, conn, s.logger)
	s.logger.Infof("Server:handleSession", "client:%s connected from %s", client.ID(), r.RemoteAddr)

	select {
	case <-client.Done():
	case <-bridge.Done():
		client.close()
	}
	s.logger.Infof("Server:handleSession", "client:%s gone", client.ID())
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !s.opts.BrowserWSURL.Valid || s.opts.BrowserWSURL.String == "" {
		return errors.New("browser WebSocket URL is required")
	}
	addr := s.opts.ListenAddr.String
	if addr == "" {
		addr = DefaultListenAddr
	}

	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Infof("Server:Run", "listening on ws://%s/session", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
