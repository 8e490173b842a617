// mlirsys show
package cmd

import (
	"io"
	"os"

	"github.com/doug-q/mlir-sys/internal/msg"
	"github.com/doug-q/mlir-sys/internal/toolkit"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// report is everything show prints
type report struct {
	PrefixEnv string             `toml:"prefix_env"`
	Target    toolkit.Platform   `toml:"target"`
	Toolkit   toolkit.Resolution `toml:"toolkit"`
}

func writeReport(w io.Writer, r *report) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(r)
}

func doShow(cmd *cobra.Command, args []string) {
	s := loadStage()
	r := newResolver(s)

	res, err := r.Resolve(cmd.Context())
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := writeReport(os.Stdout, &report{
		PrefixEnv: r.PrefixEnv(),
		Target:    s.platform,
		Toolkit:   *res,
	}); err != nil {
		msg.Fatal("%v", err)
	}
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved toolkit installation",
	Args:  cobra.NoArgs,
	Run:   doShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}
