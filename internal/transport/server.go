package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ehrlich-b/substrate/internal/logger"
)

// StreamHandler services one hijacked bidirectional session.
type StreamHandler func(ctx context.Context, s Stream)

// Server hosts the world agent's endpoints over a Unix domain socket (spec
// §4.6): unary handlers registered as ordinary HTTP routes, and a stream
// handler served by hijacking the connection once the client's upgrade
// request is accepted. Grounded in the teacher's
// internal/transport/server.go ListenAndServe/registerRoutes/graceful-
// shutdown shape, generalized from its fixed task-API route table to an
// arbitrary registered set.
type Server struct {
	socketPath string
	mux        *http.ServeMux
	srv        *http.Server
}

// NewServer constructs a Server that will listen on socketPath once
// ListenAndServe is called.
func NewServer(socketPath string) *Server {
	mux := http.NewServeMux()
	return &Server{socketPath: socketPath, mux: mux, srv: &http.Server{Handler: mux}}
}

// HandleUnary registers a unary JSON endpoint, e.g. "GET /capabilities".
func (s *Server) HandleUnary(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// HandleStream registers a bidirectional streaming endpoint. The HTTP
// request must carry the Upgrade: substrate-stream header (spec §4.4); the
// handshake response is written, the connection hijacked, and handler runs
// until it returns or the context is cancelled.
func (s *Server) HandleStream(pattern string, handler StreamHandler) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "substrate-stream" {
			http.Error(w, "expected substrate-stream upgrade", http.StatusBadRequest)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijack not supported", http.StatusInternalServerError)
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			return
		}
		defer conn.Close()

		resp := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: substrate-stream\r\nConnection: Upgrade\r\n\r\n"
		if _, err := buf.WriteString(resp); err != nil {
			return
		}
		if err := buf.Flush(); err != nil {
			return
		}
		handler(r.Context(), newFrameConn(conn))
	})
}

// ListenAndServe binds the Unix socket (removing any stale file first,
// per spec §6 "the agent is responsible for removing a stale file before
// bind") with parent directory mode 0750 and relaxed socket file mode
// (spec §4.6 Lifecycle), then serves until ctx is cancelled, at which
// point it stops accepting new connections and waits grace for in-flight
// sessions before returning (spec §4.6 "On SIGTERM").
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0750); err != nil {
		return fmt.Errorf("transport: create socket dir for %s: %w", s.socketPath, err)
	}
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("transport: listen unix %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		logger.Warn("transport: chmod socket failed", "path", s.socketPath, "err", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		err := s.srv.Shutdown(shutCtx)
		os.Remove(s.socketPath)
		return err
	case err := <-errCh:
		os.Remove(s.socketPath)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// WriteJSON writes v as a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a {"error": msg} JSON body with the given status code.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
