package toolkit

import (
	"context"
	"fmt"
	"slices"

	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/metadata"
	"github.com/doug-q/mlir-sys/internal/msg"
)

const (
	DefaultToolName    = "llvm-config"
	DefaultLibraryName = "MLIR-C"
	DefaultHeader      = "wrapper.h"
)

// Installation is one located toolkit instance
type Installation struct {
	// ConfigPath is the installation root taken from the override variable,
	// empty when the tool was found on PATH
	ConfigPath string `toml:"config_path,omitempty"`
	IncludeDir string `toml:"include_dir"`
	LibDir     string `toml:"lib_dir"`
	Version    string `toml:"version"`
}

// LinkSpec is everything a binary linking the toolkit needs
type LinkSpec struct {
	LibraryName      string   `toml:"library_name"`
	SystemLibs       []string `toml:"system_libs"`
	ExtraSearchPaths []string `toml:"extra_search_paths,omitempty"`
	RuntimeLib       string   `toml:"runtime_lib,omitempty"`
}

// Libs returns the link order: system libraries, then the C++ runtime so
// that left-to-right linkers see it after everything referencing it
func (l *LinkSpec) Libs() []string {
	libs := make([]string, 0, len(l.SystemLibs)+1)
	libs = append(libs, l.SystemLibs...)
	if l.RuntimeLib != "" {
		libs = append(libs, l.RuntimeLib)
	}
	return libs
}

type Resolution struct {
	Installation Installation `toml:"installation"`
	Link         LinkSpec     `toml:"link"`
}

// Metadata is what gets published to the stages that depend on us
func (r *Resolution) Metadata() *metadata.Metadata {
	return &metadata.Metadata{
		ConfigPath:  r.Installation.ConfigPath,
		IncludeDirs: []string{r.Installation.IncludeDir},
		LibraryName: r.Link.LibraryName,
		LinkLibs:    r.Link.Libs(),
		LibDirs:     r.LibDirs(),
	}
}

// LibDirs lists the library directory followed by the extra search paths,
// without repeats
func (r *Resolution) LibDirs() []string {
	dirs := []string{r.Installation.LibDir}
	for _, dir := range r.Link.ExtraSearchPaths {
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Resolver locates the toolkit through its introspection tool
type Resolver struct {
	Major       int
	ToolName    string
	LibraryName string
	// Header is the wrapper header whose changes must trigger a rebuild
	Header   string
	Platform Platform
	Runner   Runner
	Lookup   metadata.LookupFunc
}

func NewResolver(p Platform, lookup metadata.LookupFunc) *Resolver {
	return &Resolver{
		Major:       DefaultMajor,
		ToolName:    DefaultToolName,
		LibraryName: DefaultLibraryName,
		Header:      DefaultHeader,
		Platform:    p,
		Runner:      ExecRunner{Platform: p},
		Lookup:      lookup,
	}
}

func (r *Resolver) PrefixEnv() string {
	return PrefixEnv(r.Major)
}

// ConfigPath returns the override installation root, if any. An unset or
// empty variable means the tool is looked up on PATH.
func (r *Resolver) ConfigPath() string {
	v, ok := r.Lookup(r.PrefixEnv())
	if !ok {
		return ""
	}
	return v
}

func (r *Resolver) Tool() *Tool {
	return NewTool(ToolPath(r.ConfigPath(), r.ToolName), r.Runner)
}

// Resolve runs the introspection tool. The version is checked first and
// nothing else is queried when it does not match.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	tool := r.Tool()

	version, err := tool.Version(ctx)
	if err != nil {
		return nil, err
	}
	if err := CheckVersion(version, r.Major); err != nil {
		return nil, fmt.Errorf("%s: %w", tool.Path, err)
	}
	msg.Debug("found %s version %s", tool.Path, version)

	includeDir, err := tool.IncludeDir(ctx)
	if err != nil {
		return nil, err
	}
	libDir, err := tool.LibDir(ctx)
	if err != nil {
		return nil, err
	}
	sysOut, err := tool.SystemLibs(ctx)
	if err != nil {
		return nil, err
	}
	sys, err := ParseSystemLibs(sysOut)
	if err != nil {
		return nil, fmt.Errorf("%s --system-libs: %w", tool.Path, err)
	}

	return &Resolution{
		Installation: Installation{
			ConfigPath: r.ConfigPath(),
			IncludeDir: includeDir,
			LibDir:     libDir,
			Version:    version,
		},
		Link: LinkSpec{
			LibraryName:      r.LibraryName,
			SystemLibs:       sys.Names,
			ExtraSearchPaths: sys.SearchPaths,
			RuntimeLib:       RuntimeLib(r.Platform),
		},
	}, nil
}

// Directives renders a resolution in the order the orchestrator expects
func (r *Resolver) Directives(res *Resolution) ([]directive.Directive, error) {
	md, err := res.Metadata().Directives()
	if err != nil {
		return nil, err
	}

	var b directive.Buffer
	var linkLibs directive.Directive
	for _, d := range md {
		if d.Key == metadata.KeyLinkLibs {
			linkLibs = d // published after the search paths, like the link lines
			continue
		}
		b.Add(d)
	}
	b.Add(
		directive.RerunIfEnvChanged(r.PrefixEnv()),
		directive.RerunIfChanged(r.Header),
		directive.LinkSearch(directive.KindNative, res.Installation.LibDir),
		directive.Dylib(res.Link.LibraryName),
	)
	for _, dir := range res.Link.ExtraSearchPaths {
		b.Add(directive.LinkSearch(directive.KindNative, dir))
	}
	b.Add(linkLibs)
	for _, lib := range res.Link.Libs() {
		b.Add(directive.Dylib(lib))
	}
	return b.Directives(), nil
}
