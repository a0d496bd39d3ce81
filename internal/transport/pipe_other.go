//go:build !windows

package transport

import (
	"context"
	"fmt"
	"time"
)

// pipeConnector is a no-op on non-Windows hosts: named pipes only exist as
// a bridge into a guest's Unix socket on a Windows host (spec §4.4), which
// the Lima/WSL provisioning helpers own and spec §1 places out of scope.
// NewPipeConnector still returns a Connector here so Candidates' fixed
// platform ordering doesn't need per-OS call sites; Probe always fails so
// Select simply skips to the next candidate.
type pipeConnector struct {
	name string
	port int
}

// NewPipeConnector returns a connector for the named-pipe bridge.
func NewPipeConnector(name string, fallbackPort int) Connector {
	return &pipeConnector{name: name, port: fallbackPort}
}

func (c *pipeConnector) Mode() Mode         { return ModeNamedPipe }
func (c *pipeConnector) Endpoint() Endpoint { return Endpoint{Mode: ModeNamedPipe, Pipe: c.name} }
func (c *pipeConnector) Close() error       { return nil }

func (c *pipeConnector) Probe(ctx context.Context, timeout time.Duration) bool { return false }

func (c *pipeConnector) Get(ctx context.Context, path string) ([]byte, error) {
	return nil, fmt.Errorf("transport: named pipe connector unavailable on this platform")
}

func (c *pipeConnector) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return nil, fmt.Errorf("transport: named pipe connector unavailable on this platform")
}

func (c *pipeConnector) Stream(ctx context.Context, path string) (Stream, error) {
	return nil, fmt.Errorf("transport: named pipe connector unavailable on this platform")
}
