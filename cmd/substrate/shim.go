package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/substrate/internal/config"
)

// shimVersion is compared against the deployed .version file to detect
// drift (SPEC_FULL.md "Shim self-deploy and version drift").
const shimVersion = "0.1.0"

// interceptedCommands is the default set of command names symlinked into
// the shim directory (spec §6 "persisted state layout"). The set is fixed;
// profiles do not change it.
var interceptedCommands = []string{
	"npm", "npx", "yarn", "pnpm", "pip", "pip3", "python", "python3",
	"node", "go", "cargo", "rustc", "make", "docker", "git", "curl", "wget",
}

func shimInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Deploy the interception shim for every configured command",
		RunE: func(cmd *cobra.Command, args []string) error {
			shimDir, err := config.ShimDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(shimDir, 0750); err != nil {
				return fmt.Errorf("create shim dir: %w", err)
			}

			shimBinary, err := resolveShimBinary()
			if err != nil {
				return err
			}

			for _, name := range interceptedCommands {
				link := filepath.Join(shimDir, name)
				os.Remove(link)
				if err := os.Symlink(shimBinary, link); err != nil {
					return fmt.Errorf("symlink %s: %w", name, err)
				}
			}

			versionPath := filepath.Join(shimDir, ".version")
			if err := os.WriteFile(versionPath, []byte(shimVersion+"\n"), 0640); err != nil {
				return fmt.Errorf("write version marker: %w", err)
			}

			fmt.Printf("installed %d shims to %s\n", len(interceptedCommands), shimDir)
			fmt.Println("add this directory to the front of PATH to activate interception:")
			fmt.Printf("  export PATH=%q:$PATH\n", shimDir)
			return nil
		},
	}
}

func shimStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Compare the deployed shims' version against this binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			shimDir, err := config.ShimDir()
			if err != nil {
				return err
			}
			versionPath := filepath.Join(shimDir, ".version")
			data, err := os.ReadFile(versionPath)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("not installed (run `substrate shim install`)")
					return nil
				}
				return err
			}
			deployed := trimNewline(string(data))
			if deployed == shimVersion {
				fmt.Printf("up to date (%s)\n", deployed)
			} else {
				fmt.Printf("drift: deployed=%s running=%s (run `substrate shim install`)\n", deployed, shimVersion)
			}

			missing := 0
			for _, name := range interceptedCommands {
				if _, err := os.Lstat(filepath.Join(shimDir, name)); err != nil {
					missing++
				}
			}
			if missing > 0 {
				fmt.Printf("%d of %d command shims missing\n", missing, len(interceptedCommands))
			}
			return nil
		},
	}
}

// resolveShimBinary finds the substrate-shim binary alongside this one, or
// falls back to PATH resolution, mirroring the clean-PATH scan the shim
// itself performs at runtime (internal/common.ResolveOnPath).
func resolveShimBinary() (string, error) {
	self, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(self), "substrate-shim")
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := lookupOnPath("substrate-shim")
	if err != nil {
		return "", fmt.Errorf("substrate-shim not found next to this binary or on PATH: %w", err)
	}
	return path, nil
}

func lookupOnPath(name string) (string, error) {
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
