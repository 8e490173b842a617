// mlirsys cgo
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/metadata"
	"github.com/doug-q/mlir-sys/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagCgoFrom    string
	flagCgoOut     string
	flagCgoPackage string
	flagCgoTags    string
)

// cgoInput is the metadata plus the library directories the linker needs
type cgoInput struct {
	meta    *metadata.Metadata
	libDirs []string
}

func newCgoInput(meta *metadata.Metadata, searchDirs []string) *cgoInput {
	in := &cgoInput{meta: meta}
	for _, dir := range slices.Concat(meta.LibDirs, searchDirs) {
		if !slices.Contains(in.libDirs, dir) {
			in.libDirs = append(in.libDirs, dir)
		}
	}
	// metadata from older resolvers only knows the installation root
	if len(in.libDirs) == 0 && meta.ConfigPath != "" {
		in.libDirs = append(in.libDirs, filepath.Join(meta.ConfigPath, "lib"))
	}
	return in
}

// readCgoInput decodes metadata from a metadata file, a captured resolver
// output, or the environment when from is empty
func readCgoInput(from, links string) (*cgoInput, error) {
	if from == "" {
		meta, err := metadata.FromEnv(os.LookupEnv, links)
		if err != nil {
			return nil, err
		}
		return newCgoInput(meta, nil), nil
	}

	if filepath.Ext(from) == ".toml" {
		meta, err := metadata.ReadFile(from)
		if err != nil {
			return nil, err
		}
		return newCgoInput(meta, nil), nil
	}

	f, err := os.Open(from)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ds, err := directive.ParseAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", from, err)
	}
	meta, err := metadata.FromDirectives(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", from, err)
	}

	var searchDirs []string
	for _, d := range ds {
		if dir, ok := d.LinkSearchDir(); ok {
			searchDirs = append(searchDirs, dir)
		}
	}
	return newCgoInput(meta, searchDirs), nil
}

// linkLibs puts the primary library ahead of the libraries it depends on
func (in *cgoInput) linkLibs() []string {
	libs := in.meta.LinkLibs
	if name := in.meta.LibraryName; name != "" && !slices.Contains(libs, name) {
		libs = append([]string{name}, libs...)
	}
	return libs
}

// cgoQuote quotes flags the cgo tool would otherwise split
func cgoQuote(flag string) string {
	if strings.ContainsAny(flag, " \t'\"") {
		return strconv.Quote(flag)
	}
	return flag
}

func writeCgo(w io.Writer, pkg, tags string, in *cgoInput) error {
	var cflags, ldflags []string
	for _, dir := range in.meta.IncludeDirs {
		cflags = append(cflags, cgoQuote("-I"+dir))
	}
	for _, dir := range in.libDirs {
		ldflags = append(ldflags, cgoQuote("-L"+dir))
	}
	for _, lib := range in.linkLibs() {
		ldflags = append(ldflags, cgoQuote("-l"+lib))
	}

	var sb strings.Builder
	sb.WriteString("// Code generated by mlirsys cgo. DO NOT EDIT.\n\n")
	if tags != "" {
		fmt.Fprintf(&sb, "//go:build %s\n\n", tags)
	}
	fmt.Fprintf(&sb, "package %s\n\n", pkg)
	fmt.Fprintf(&sb, "// #cgo CFLAGS: %s\n", strings.Join(cflags, " "))
	fmt.Fprintf(&sb, "// #cgo LDFLAGS: %s\n", strings.Join(ldflags, " "))
	sb.WriteString("import \"C\"\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func doCgo(cmd *cobra.Command, args []string) {
	s := loadStage()
	in, err := readCgoInput(flagCgoFrom, s.cfg.Toolkit.Links)
	if err != nil {
		msg.Fatal("%v", err)
	}

	if flagCgoOut == "" || flagCgoOut == "-" {
		if err := writeCgo(os.Stdout, flagCgoPackage, flagCgoTags, in); err != nil {
			msg.Fatal("%v", err)
		}
		return
	}

	f, err := os.Create(flagCgoOut)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := writeCgo(f, flagCgoPackage, flagCgoTags, in); err != nil {
		f.Close()
		msg.Fatal("%v", err)
	}
	if err := f.Close(); err != nil {
		msg.Fatal("%v", err)
	}
	msg.Info("generated cgo file: %s", flagCgoOut)
}

var cgoCmd = &cobra.Command{
	Use:   "cgo",
	Short: "Write #cgo directives for linking the toolkit from Go",
	Long: `Renders the published toolkit metadata as a Go file with #cgo CFLAGS and
LDFLAGS lines. The metadata is read from the environment, from a metadata file
(*.toml) or from the captured output of "mlirsys resolve".`,
	Args: cobra.NoArgs,
	Run:  doCgo,
}

func init() {
	rootCmd.AddCommand(cgoCmd)
	cgoCmd.Flags().StringVarP(&flagCgoFrom, "from", "f", "", "Metadata file or captured resolver output (default: environment)")
	cgoCmd.Flags().StringVarP(&flagCgoOut, "out", "o", "", "Output file (default: stdout)")
	cgoCmd.Flags().StringVarP(&flagCgoPackage, "package", "p", "mlir", "Package clause of the generated file")
	cgoCmd.Flags().StringVar(&flagCgoTags, "tags", "", "Build constraint of the generated file, e.g. linux && amd64")
}
