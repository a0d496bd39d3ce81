package shell

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ehrlich-b/substrate/internal/config"
	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/transport"
)

// spawnAgent attempts a bounded Linux dev-path agent spawn (spec §4.7:
// "attempts a bounded agent spawn (Linux dev path) or backend ensure (macOS
// Lima / Windows WSL)"). The macOS/Windows provisioning paths are the
// Lima/WSL helpers spec §1 places out of scope; this only covers the local
// dev path where substrated sits next to the calling binary or on PATH.
func spawnAgent(cfg config.Config) bool {
	bin, err := resolveAgentBinary()
	if err != nil {
		logger.Warn("shell: cannot locate substrated binary to spawn", "err", err)
		return false
	}

	cmd := exec.Command(bin, "start")
	cmd.Env = append(os.Environ(), "SUBSTRATE_AGENT_SOCKET="+cfg.AgentSocket)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logger.Warn("shell: spawn substrated failed", "err", err)
		return false
	}
	// Detach: the agent daemon outlives this process.
	go cmd.Wait()
	return true
}

func resolveAgentBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "substrated")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return exec.LookPath("substrated")
}

// waitForAgent polls the candidate connectors until one answers or ctx
// expires (spec §4.7 "composite timeout for... socket appearance and first
// successful probe").
func waitForAgent(ctx context.Context, candidates []transport.Connector) bool {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			probeCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			_, err := transport.Select(probeCtx, candidates, 400*time.Millisecond)
			cancel()
			if err == nil {
				return true
			}
		}
	}
}
