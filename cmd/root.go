// mlirsys <stage>
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/doug-q/mlir-sys/internal/bindgen"
	"github.com/doug-q/mlir-sys/internal/config"
	"github.com/doug-q/mlir-sys/internal/msg"
	"github.com/doug-q/mlir-sys/internal/toolkit"
	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagDir     string
)

var rootCmd = &cobra.Command{
	Use:   "mlirsys",
	Short: "Build stages for the MLIR C API bindings",
	Long: `Build stages for the MLIR C API bindings.

Each subcommand is meant to run as a build script: directives for the build
orchestrator go to stdout, diagnostics go to stderr.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			msg.Verbose = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Print every external command")
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", "", "Source root holding "+config.Filename+` (default $`+bindgen.EnvSourceRoot+` or ".")`)
}

// sourceRoot is where mlirsys.toml and the wrapper header live
func sourceRoot() string {
	if flagDir != "" {
		return flagDir
	}
	if dir := os.Getenv(bindgen.EnvSourceRoot); dir != "" {
		return dir
	}
	return "."
}

// stage is the state every subcommand starts from
type stage struct {
	cfg      *config.Config
	platform toolkit.Platform
	// cfgFile is set when the source root has a config file
	cfgFile string
}

func loadStage() *stage {
	p := toolkit.DefaultPlatform()
	dir := sourceRoot()
	cfg, err := config.Load(dir, config.NewEnv(p))
	if err != nil {
		msg.Fatal("%v", err)
	}

	s := &stage{cfg: cfg, platform: p}
	path := filepath.Join(dir, config.Filename)
	if _, err := os.Stat(path); err == nil {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		s.cfgFile = path
	}
	msg.Debug("target %s/%s (env %q)", p.OS, p.Arch, p.Env)
	return s
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
