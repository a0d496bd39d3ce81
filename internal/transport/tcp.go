package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// tcpConnector is the last-resort loopback-TCP bridge (spec §4.4: "required
// on hosts that cannot project a guest socket"). Unary calls are plain
// HTTP; the stream endpoint needs its own message framing since raw TCP has
// none, so it rides a WebSocket connection using the same library the
// teacher depends on for its own relay PTY protocol (internal/ws/client.go).
type tcpConnector struct {
	host   string
	port   int
	client *http.Client
}

// NewTCPConnector builds a client-side connector reaching the agent's
// loopback-TCP bridge at host:port.
func NewTCPConnector(host string, port int) Connector {
	return &tcpConnector{host: host, port: port, client: &http.Client{}}
}

func (c *tcpConnector) Mode() Mode { return ModeTCP }
func (c *tcpConnector) Endpoint() Endpoint {
	return Endpoint{Mode: ModeTCP, Host: c.host, Port: c.port}
}
func (c *tcpConnector) Close() error { c.client.CloseIdleConnections(); return nil }

func (c *tcpConnector) base() string {
	return fmt.Sprintf("http://%s:%d", c.host, c.port)
}

func (c *tcpConnector) Probe(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := c.Get(ctx, "/capabilities")
	return err == nil
}

func (c *tcpConnector) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *tcpConnector) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *tcpConnector) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transport: HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}

func (c *tcpConnector) Stream(ctx context.Context, path string) (Stream, error) {
	url := fmt.Sprintf("ws://%s:%d%s", c.host, c.port, path)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

// wsStream implements Stream over a coder/websocket connection, each frame
// a single text JSON message (spec §4.4).
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Send(msg Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *wsStream) Recv() (Envelope, error) {
	var env Envelope
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("transport: malformed frame: %w", err)
	}
	return env, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
