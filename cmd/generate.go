// mlirsys generate
package cmd

import (
	"os"

	"github.com/doug-q/mlir-sys/internal/bindgen"
	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagLevel     EnumValue = NewEnumValue(string(bindgen.LevelFull), bindgen.Levels)
	flagMetadata  string
	flagGenerator string
	flagJobs      int
)

func doGenerate(cmd *cobra.Command, args []string) {
	s := loadStage()
	level, err := bindgen.ParseLevel(flagLevel.Value())
	if err != nil {
		msg.Fatal("%v", err)
	}

	opts := bindgen.OptionsFromConfig(s.cfg, level, s.platform)
	opts.MetadataFile = flagMetadata
	if cmd.Flags().Changed("jobs") {
		opts.Jobs = flagJobs
	}
	if s.cfgFile != "" {
		opts.Tracked = append(opts.Tracked, s.cfgFile)
	}

	generator := s.cfg.Bindings.Generator
	if flagGenerator != "" {
		generator = flagGenerator
	}

	g := bindgen.New(opts, os.LookupEnv, generator)
	res, err := g.Build(cmd.Context(), os.LookupEnv)
	if err != nil {
		msg.Fatal("%v", err)
	}

	var b directive.Buffer
	b.Add(res.Directives...)
	if _, err := b.WriteTo(os.Stdout); err != nil {
		msg.Fatal("%v", err)
	}

	msg.Info("wrote %s", res.Artifact.BindingsSource)
	if res.Artifact.ShimArchive != "" {
		msg.Info("wrote %s", res.Artifact.ShimArchive)
	}
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate bindings from the published toolkit metadata",
	Long: `Reads the metadata published by "mlirsys resolve", runs the binding
generator on the wrapper header and, at the shim and full levels, compiles the
generated static-function shim into a static archive.`,
	Args: cobra.NoArgs,
	Run:  doGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().VarP(&flagLevel, "level", "l", "Capability level, one of "+flagLevel.HelpString())
	generateCmd.RegisterFlagCompletionFunc("level", flagLevel.CompletionFunc())
	generateCmd.Flags().StringVarP(&flagMetadata, "metadata", "m", "", "Read metadata from this file instead of the environment")
	generateCmd.Flags().StringVar(&flagGenerator, "generator", "", "Binding generator executable (default from config, bindgen)")
	generateCmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Parallel shim compile jobs (default number of CPUs)")
}
