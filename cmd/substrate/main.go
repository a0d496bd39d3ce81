// Command substrate is the shell orchestrator's CLI surface: the
// interactive REPL by default, plus subcommands for shim management,
// replay, and agent status.
//
// Grounded in the teacher's cmd/wt/main.go cobra-root-plus-subcommands
// shape (timelineCmd/statusCmd/daemonCmd style), re-targeted from task
// submission to shell dispatch.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/substrate/internal/common"
	"github.com/ehrlich-b/substrate/internal/config"
	"github.com/ehrlich-b/substrate/internal/logger"
	"github.com/ehrlich-b/substrate/internal/policy"
	"github.com/ehrlich-b/substrate/internal/replay"
	"github.com/ehrlich-b/substrate/internal/shell"
	"github.com/ehrlich-b/substrate/internal/span"
	"github.com/ehrlich-b/substrate/internal/transport"
	"github.com/ehrlich-b/substrate/internal/world"
)

func main() {
	root := &cobra.Command{
		Use:   "substrate",
		Short: "substrate shell orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL()
		},
	}

	shimCmd := &cobra.Command{Use: "shim", Short: "Manage interception shims"}
	shimCmd.AddCommand(shimInstallCmd(), shimStatusCmd())

	replayCmd := &cobra.Command{Use: "replay", Short: "Replay a recorded span"}
	replayCmd.AddCommand(replayRunCmd(), replayListCmd())

	agentCmd := &cobra.Command{Use: "agent", Short: "Inspect the world agent"}
	agentCmd.AddCommand(agentStatusCmd())

	root.AddCommand(shimCmd, replayCmd, agentCmd, execCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runREPL() error {
	sh, err := newShell()
	if err != nil {
		return err
	}
	defer sh.Recorder.Close()
	code := sh.RunREPL(context.Background())
	os.Exit(code)
	return nil
}

// execCmd runs a single command non-interactively, e.g. `substrate exec --
// npm test`, for callers that want Substrate's dispatch semantics without
// an interactive loop.
func execCmd() *cobra.Command {
	var pty bool
	cmd := &cobra.Command{
		Use:   "exec -- <command> [args...]",
		Short: "Dispatch a single command through the orchestrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := newShell()
			if err != nil {
				return err
			}
			defer sh.Recorder.Close()
			out, err := sh.Dispatch(context.Background(), args, pty, false)
			if err != nil {
				return err
			}
			os.Exit(out.ExitCode)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pty, "pty", false, "Force PTY dispatch")
	return cmd
}

func newShell() (*shell.Shell, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}
	if err := logger.Init(cfg.LogLevel, ""); err != nil {
		fmt.Fprintf(os.Stderr, "substrate: logger init: %v\n", err)
	}

	broker, err := loadBroker(cfg)
	if err != nil {
		return nil, err
	}

	recorder, err := span.Open(cfg.TracePath, span.WithMaxBytes(int64(cfg.TraceMaxMB)*1024*1024), span.WithKeep(cfg.TraceKeep))
	if err != nil {
		return nil, fmt.Errorf("span recorder: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	return shell.New(cfg, broker, recorder, cwd), nil
}

func loadBroker(cfg config.Config) (*policy.Broker, error) {
	mode := policy.Observe
	if cfg.DefaultMode == config.ModeEnforce {
		mode = policy.Enforce
	}
	path, err := config.GlobalProfilePath()
	if err != nil {
		return policy.New(nil, mode), nil
	}
	global, err := policy.LoadProfile(path)
	if err != nil {
		return policy.New(nil, mode), nil
	}
	return policy.New(global, mode), nil
}

func replayRunCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run <span_id>",
		Short: "Re-execute a recorded span inside a fresh isolated world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			recorder, err := span.Open(cfg.TracePath, span.WithMaxBytes(int64(cfg.TraceMaxMB)*1024*1024), span.WithKeep(cfg.TraceKeep))
			if err != nil {
				return err
			}
			defer recorder.Close()

			backend := world.NewBackend(0)
			engine := &replay.Engine{Backend: backend, Recorder: recorder}

			result, err := engine.Run(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("replay: exit=%d new_span=%s\n", *result.Span.ExitCode, result.Span.SpanID)
			if verbose {
				fmt.Printf("strategy: %s\n", result.Strategy)
				fmt.Printf("scopes_used: %v\n", result.Span.ScopesUsed)
				if len(result.Degraded) > 0 {
					fmt.Printf("degraded: %v\n", result.Degraded)
				}
			}
			if result.FsDiff != nil {
				fmt.Printf("fs_diff: +%d ~%d -%d\n", len(result.FsDiff.Writes), len(result.FsDiff.Mods), len(result.FsDiff.Deletes))
			} else {
				fmt.Println("fs_diff: null (degraded to direct execution)")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print isolation strategy and scopes")
	return cmd
}

// replayListCmd implements SPEC_FULL.md's "substrate replay list"
// supplemental feature: scanning the trace files for command_complete
// spans, the only event type a replay can meaningfully re-run.
func replayListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent recorded spans eligible for replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			files := span.Files(cfg.TracePath, cfg.TraceKeep)

			var completed []*common.Span
			err = span.Each(files, func(s *common.Span) error {
				if s.Event == common.EventComplete {
					completed = append(completed, s)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(completed) == 0 {
				fmt.Println("no replayable spans found")
				return nil
			}

			if len(completed) > limit {
				completed = completed[len(completed)-limit:]
			}
			for _, s := range completed {
				exit := -1
				if s.ExitCode != nil {
					exit = *s.ExitCode
				}
				fmt.Printf("%s  %-20s exit=%-4d %s\n", s.SpanID, s.Command, exit, s.Cwd)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum spans to show")
	return cmd
}

func agentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the world agent's capabilities and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			conn := transport.NewUnixConnector(cfg.AgentSocket)
			defer conn.Close()
			data, err := conn.Get(context.Background(), "/status")
			if err != nil {
				fmt.Println("substrate: world agent unreachable")
				return nil
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
