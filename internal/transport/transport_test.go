package transport

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestUnixConnectorProbeAndGet(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := NewServer(socketPath)
	srv.HandleUnary("GET /capabilities", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"version": "test"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, time.Second) }()
	waitForSocket(t, socketPath)

	conn := NewUnixConnector(socketPath)
	defer conn.Close()

	if !conn.Probe(context.Background(), time.Second) {
		t.Fatal("expected probe to succeed")
	}
	data, err := conn.Get(context.Background(), "/capabilities")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) == "" {
		t.Fatal("expected non-empty capabilities body")
	}

	cancel()
	<-done
}

func TestSelectSkipsUnreachableCandidates(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	srv := NewServer(socketPath)
	srv.HandleUnary("GET /capabilities", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"version": "test"})
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, time.Second) }()
	waitForSocket(t, socketPath)

	unreachable := NewUnixConnector(filepath.Join(t.TempDir(), "missing.sock"))
	reachable := NewUnixConnector(socketPath)
	candidates := []Connector{unreachable, reachable}

	selected, err := Select(context.Background(), candidates, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected.Endpoint().Unix != socketPath {
		t.Fatalf("Select chose %v, want %s", selected.Endpoint(), socketPath)
	}

	cancel()
	<-done
}

func TestSelectReturnsErrUnavailableWhenNoneReachable(t *testing.T) {
	candidates := []Connector{
		NewUnixConnector(filepath.Join(t.TempDir(), "a.sock")),
		NewUnixConnector(filepath.Join(t.TempDir(), "b.sock")),
	}
	_, err := Select(context.Background(), candidates, 100*time.Millisecond)
	if err != ErrUnavailable {
		t.Fatalf("Select() err = %v, want ErrUnavailable", err)
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn := NewUnixConnector(path)
		if conn.Probe(context.Background(), 50*time.Millisecond) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never became ready", path)
}
