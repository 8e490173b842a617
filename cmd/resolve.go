// mlirsys resolve
package cmd

import (
	"os"
	"path/filepath"

	"github.com/doug-q/mlir-sys/internal/bindgen"
	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/metadata"
	"github.com/doug-q/mlir-sys/internal/msg"
	"github.com/doug-q/mlir-sys/internal/toolkit"
	"github.com/spf13/cobra"
)

var flagNoMetadataFile bool

func newResolver(s *stage) *toolkit.Resolver {
	r := toolkit.NewResolver(s.platform, os.LookupEnv)
	r.Major = s.cfg.Toolkit.Major
	r.ToolName = s.cfg.Toolkit.Tool
	r.LibraryName = s.cfg.Toolkit.Library
	r.Header = s.cfg.Bindings.Header
	return r
}

func doResolve(cmd *cobra.Command, args []string) {
	s := loadStage()
	r := newResolver(s)

	res, err := r.Resolve(cmd.Context())
	if err != nil {
		msg.Fatal("%v", err)
	}
	ds, err := r.Directives(res)
	if err != nil {
		msg.Fatal("%v", err)
	}

	var b directive.Buffer
	b.Add(ds...)
	if s.cfgFile != "" {
		b.Add(directive.RerunIfChanged(s.cfgFile))
	}

	if outDir := os.Getenv(bindgen.EnvOutDir); outDir != "" && !flagNoMetadataFile {
		path := filepath.Join(outDir, metadata.Filename)
		if err := res.Metadata().WriteFile(path); err != nil {
			msg.Fatal("failed to write %s: %v", path, err)
		}
		msg.Debug("wrote %s", path)
	}

	if _, err := b.WriteTo(os.Stdout); err != nil {
		msg.Fatal("%v", err)
	}
	msg.Info("found MLIR %s in %s", res.Installation.Version, res.Installation.LibDir)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Locate the toolkit installation and publish its link information",
	Long: `Runs the introspection tool (from $` + toolkit.PrefixEnv(toolkit.DefaultMajor) + `/bin when set,
otherwise from PATH), checks its major version and prints link directives and
metadata for dependent build stages.`,
	Args: cobra.NoArgs,
	Run:  doResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&flagNoMetadataFile, "no-metadata-file", false, "Do not write "+metadata.Filename+" to $"+bindgen.EnvOutDir)
}
