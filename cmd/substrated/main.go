// Command substrated is the world agent daemon (spec §4.6): a long-running
// local service exposing capabilities/execute/stream/gc endpoints over a
// Unix domain socket, backed by a world.Backend.
//
// Grounded in the teacher's cmd/wt/main.go daemonCmd() shape (a cobra
// subcommand that loads config and hands off to internal/daemon.Run) and
// internal/daemon/daemon.go's signal-driven lifecycle.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/substrate/internal/config"
	"github.com/ehrlich-b/substrate/internal/daemon"
	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/transport"
	"github.com/ehrlich-b/substrate/internal/world"
	"github.com/ehrlich-b/substrate/internal/worldagent"
)

// version is the agent's capabilities version string (spec §4.6
// "capabilities... returns version"); stamped at release time in the
// teacher's build, left as a constant here since this module has no
// release pipeline.
const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "substrated",
		Short: "substrate world agent",
	}
	root.AddCommand(startCmd(), gcCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the world agent, serving until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := logger.Init(cfg.LogLevel, ""); err != nil {
				fmt.Fprintf(os.Stderr, "substrated: logger init: %v\n", err)
			}
			if err := config.EnsureDirs(); err != nil {
				return fmt.Errorf("ensure dirs: %w", err)
			}

			backend := world.NewBackend(time.Duration(cfg.GCTTL))
			registryPath, err := config.WorldRegistryPath()
			if err != nil {
				return fmt.Errorf("registry path: %w", err)
			}
			agent, err := worldagent.New(backend, registryPath, version)
			if err != nil {
				return fmt.Errorf("worldagent: %w", err)
			}

			srv := transport.NewServer(cfg.AgentSocket)
			agent.Register(srv)

			return daemon.Run(
				daemon.Options{
					StartupGC: agent.StartupGC,
					Grace:     5 * time.Second,
				},
				func(ctx context.Context) error {
					return srv.ListenAndServe(ctx, 5*time.Second)
				},
				func(ctx context.Context) error {
					agent.RunPeriodicGC(ctx, time.Duration(cfg.GCInterval))
					return nil
				},
			)
		},
	}
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run a one-off reaper sweep against a live agent's backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conn := transport.NewUnixConnector(cfg.AgentSocket)
			defer conn.Close()
			data, err := conn.Post(context.Background(), "/gc", []byte("{}"))
			if err != nil {
				return fmt.Errorf("substrated not reachable: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the agent's capabilities and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conn := transport.NewUnixConnector(cfg.AgentSocket)
			defer conn.Close()
			data, err := conn.Get(context.Background(), "/status")
			if err != nil {
				return fmt.Errorf("substrated not reachable: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
