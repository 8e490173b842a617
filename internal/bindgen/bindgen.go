// Package bindgen is the consuming side of the pipeline: it reads the
// metadata published by the resolver, runs the header translator and, when
// asked to, compiles the static-function shim it produces.
package bindgen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/doug-q/mlir-sys/internal/bindgen/shim"
	"github.com/doug-q/mlir-sys/internal/config"
	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/metadata"
	"github.com/doug-q/mlir-sys/internal/msg"
	"github.com/doug-q/mlir-sys/internal/toolkit"
)

const (
	EnvOutDir     = "OUT_DIR"
	EnvSourceRoot = "CARGO_MANIFEST_DIR"
)

type Options struct {
	Level    Level
	Links    string
	ToolName string
	// Header is relative to the source root
	Header   string
	Output   string
	ShimName string
	Archive  string

	Args      []string
	ClangArgs []string
	// Watch and ShimSources are globs relative to the source root
	Watch       []string
	ShimSources []string
	ShimCflags  []string
	Patches     []string
	Jobs        int

	// MetadataFile replaces the environment as the metadata source when set
	MetadataFile string
	// Tracked files trigger a rebuild when they change
	Tracked  []string
	Platform toolkit.Platform
}

func OptionsFromConfig(cfg *config.Config, level Level, p toolkit.Platform) Options {
	return Options{
		Level:       level,
		Links:       cfg.Toolkit.Links,
		ToolName:    cfg.Toolkit.Tool,
		Header:      cfg.Bindings.Header,
		Output:      cfg.Bindings.Output,
		ShimName:    cfg.Bindings.Shim,
		Archive:     cfg.Shim.Archive,
		Args:        cfg.Bindings.Args,
		ClangArgs:   cfg.Bindings.ClangArgs,
		Watch:       cfg.Bindings.Watch,
		ShimSources: cfg.Shim.Sources,
		ShimCflags:  cfg.Shim.Cflags,
		Patches:     cfg.Bindings.Patches,
		Jobs:        cfg.Shim.Jobs,
		Platform:    p,
	}
}

// Inputs are the values a consuming stage receives from the orchestrator
type Inputs struct {
	Meta       *metadata.Metadata
	OutDir     string
	SourceRoot string
}

// LoadInputs reads and validates every required input. Nothing external is
// started before this succeeds.
func LoadInputs(lookup metadata.LookupFunc, links, metadataFile string) (*Inputs, error) {
	in := new(Inputs)
	var missing []string
	for name, dst := range map[string]*string{EnvOutDir: &in.OutDir, EnvSourceRoot: &in.SourceRoot} {
		v, ok := lookup(name)
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		*dst = v
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %s", metadata.ErrMissingEnv, strings.Join(missing, ", "))
	}

	var err error
	if metadataFile != "" {
		in.Meta, err = metadata.ReadFile(metadataFile)
	} else {
		in.Meta, err = metadata.FromEnv(lookup, links)
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// Artifact is what one generator run leaves in the output directory
type Artifact struct {
	BindingsSource string `toml:"bindings_source"`
	ShimSource     string `toml:"shim_source,omitempty"`
	ShimArchive    string `toml:"shim_archive,omitempty"`
}

type Result struct {
	Artifact   Artifact
	Directives []directive.Directive
}

type Generator struct {
	Options
	CodeGen CodeGenerator
	// Runner queries the introspection tool for --cflags
	Runner toolkit.Runner
	// NewCompiler is only called by levels that build a shim
	NewCompiler func() (*shim.Compiler, error)
}

func New(opts Options, lookup metadata.LookupFunc, generatorPath string) *Generator {
	return &Generator{
		Options: opts,
		CodeGen: &CommandGenerator{Path: generatorPath},
		Runner:  toolkit.ExecRunner{Platform: opts.Platform},
		NewCompiler: func() (*shim.Compiler, error) {
			return shim.NewCompiler(lookup, opts.Jobs)
		},
	}
}

// Build loads the inputs from lookup and runs the generator
func (g *Generator) Build(ctx context.Context, lookup metadata.LookupFunc) (*Result, error) {
	in, err := LoadInputs(lookup, g.Links, g.MetadataFile)
	if err != nil {
		return nil, err
	}
	return g.Run(ctx, in)
}

// collectFiles expands globs relative to root into sorted absolute paths
func collectFiles(root string, patterns []string) ([]string, error) {
	var files []string
	fsys := os.DirFS(root)

	for _, pat := range patterns {
		if filepath.IsAbs(pat) {
			files = append(files, filepath.Clean(pat))
			continue
		}
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pat), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
		if len(matches) == 0 {
			msg.Warn("pattern %q matched no files in %s", pat, root)
		}
		for _, match := range matches {
			files = append(files, filepath.Join(root, filepath.FromSlash(match)))
		}
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

func (g *Generator) resolve(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			out[i] = p
		} else {
			out[i] = filepath.Join(root, p)
		}
	}
	return out
}

// toolCflags asks the introspection tool for the flags its headers need
func (g *Generator) toolCflags(ctx context.Context, meta *metadata.Metadata) ([]string, error) {
	tool := toolkit.NewTool(toolkit.ToolPath(meta.ConfigPath, g.ToolName), g.Runner)
	out, err := tool.Cflags(ctx)
	if err != nil {
		return nil, err
	}
	return toolkit.SplitFlags(out, g.Platform)
}

// Run generates the bindings and, for the shim levels, compiles the shim
// afterwards. Directives are only returned when every step succeeded.
func (g *Generator) Run(ctx context.Context, in *Inputs) (*Result, error) {
	header := filepath.Join(in.SourceRoot, g.Header)
	if _, err := os.Stat(header); err != nil {
		return nil, fmt.Errorf("wrapper header: %w", err)
	}

	watched, err := collectFiles(in.SourceRoot, g.Watch)
	if err != nil {
		return nil, err
	}
	patches := g.resolve(in.SourceRoot, g.Patches)

	var b directive.Buffer
	for _, name := range metadata.EnvNames(g.Links) {
		b.Add(directive.RerunIfEnvChanged(name))
	}
	b.Add(directive.RerunIfChanged(header))
	for _, f := range slices.Concat(watched, patches, g.Tracked) {
		b.Add(directive.RerunIfChanged(f))
	}
	for _, lib := range in.Meta.LinkLibs {
		b.Add(directive.Dylib(lib))
	}

	clangArgs := make([]string, 0, len(in.Meta.IncludeDirs)+len(g.ClangArgs)+1)
	for _, dir := range in.Meta.IncludeDirs {
		clangArgs = append(clangArgs, "-I"+dir)
	}
	clangArgs = append(clangArgs, "-I"+in.SourceRoot)
	if g.Level.UsesToolCflags() {
		cflags, err := g.toolCflags(ctx, in.Meta)
		if err != nil {
			return nil, err
		}
		clangArgs = append(clangArgs, cflags...)
	}
	clangArgs = append(clangArgs, g.ClangArgs...)

	var (
		compiler    *shim.Compiler
		shimSources []string
	)
	if g.Level.WrapsStaticFns() {
		// find the compiler before generating anything
		if compiler, err = g.NewCompiler(); err != nil {
			return nil, err
		}
		if shimSources, err = collectFiles(in.SourceRoot, g.ShimSources); err != nil {
			return nil, err
		}
	}

	req := &Request{
		Header:    header,
		Output:    filepath.Join(in.OutDir, g.Output),
		Args:      g.Args,
		ClangArgs: clangArgs,
	}
	if g.Level.WrapsStaticFns() {
		req.ShimPath = filepath.Join(in.OutDir, g.ShimName)
	}

	msg.Info("generating %s from %s", req.Output, header)
	if err := g.CodeGen.Generate(ctx, req); err != nil {
		return nil, err
	}
	if _, err := os.Stat(req.Output); err != nil {
		return nil, fmt.Errorf("%w: no bindings written: %w", ErrGenerator, err)
	}
	if err := applyPatchFiles(req.Output, patches); err != nil {
		return nil, err
	}

	res := &Result{Artifact: Artifact{BindingsSource: req.Output}}
	if compiler != nil {
		shimSource := req.ShimPath + ".c"
		if _, err := os.Stat(shimSource); err != nil {
			return nil, fmt.Errorf("%w: no shim source written: %w", ErrGenerator, err)
		}

		archive, err := compiler.Build(ctx, &shim.Request{
			Sources:     append([]string{shimSource}, shimSources...),
			IncludeDirs: append(slices.Clone(in.Meta.IncludeDirs), in.SourceRoot),
			Cflags:      g.ShimCflags,
			OutDir:      in.OutDir,
			Archive:     g.Archive,
		})
		if err != nil {
			return nil, err
		}
		res.Artifact.ShimSource = shimSource
		res.Artifact.ShimArchive = archive
		b.Add(shim.Directives(in.OutDir, g.Archive)...)
	}

	res.Directives = b.Directives()
	return res, nil
}
