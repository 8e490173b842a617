// Package shim compiles the out-of-line definitions the binding generator
// writes for static and inline header functions into a static archive.
package shim

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/msg"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoCompiler = errors.New("no C compiler found (set CC)")
	ErrCompile    = errors.New("shim compilation failed")
)

var execCommandContext = exec.CommandContext

// RunFunc runs one compiler or archiver invocation
type RunFunc func(ctx context.Context, name string, args ...string) error

// Compiler turns shim sources into a static archive
type Compiler struct {
	CC   string
	AR   string
	Jobs int
	Run  RunFunc
}

// NewCompiler discovers the C compiler and archiver from lookup and PATH
func NewCompiler(lookup func(string) (string, bool), jobs int) (*Compiler, error) {
	cc := FindCompiler(lookup)
	if cc == "" {
		return nil, ErrNoCompiler
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &Compiler{
		CC:   cc,
		AR:   FindArchiver(lookup, cc),
		Jobs: jobs,
		Run:  runCommand,
	}, nil
}

// Request describes one archive
type Request struct {
	Sources     []string
	IncludeDirs []string
	Cflags      []string
	OutDir      string
	// Archive is the library name the linker is asked for, e.g. mlir_extern
	Archive string
}

// compileJob represents a single compilation job
type compileJob struct {
	src  string
	obj  string
	args []string
}

func (c *Compiler) msvc() bool { return isMSVC(c.CC) }

func (c *Compiler) objectExt() string {
	if c.msvc() {
		return ".obj"
	}
	return ".o"
}

// compileArgs builds the argument list for one translation unit
func (c *Compiler) compileArgs(req *Request, src, obj string) []string {
	args := make([]string, 0, len(req.IncludeDirs)+len(req.Cflags)+5)
	if c.msvc() {
		args = append(args, "/nologo")
	}
	for _, dir := range req.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	args = append(args, req.Cflags...)
	if c.msvc() {
		return append(args, "/c", src, "/Fo"+obj)
	}
	return append(args, "-c", src, "-o", obj)
}

func (c *Compiler) archiveArgs(out string, objs []string) []string {
	if c.msvc() {
		return append([]string{"/nologo", "/OUT:" + out}, objs...)
	}
	return append([]string{"rcs", out}, objs...)
}

// plan assigns every source an object file; sources sharing a base name get
// a numeric suffix so they do not overwrite each other
func (c *Compiler) plan(req *Request, objDir string) []compileJob {
	seen := make(map[string]int)
	jobs := make([]compileJob, 0, len(req.Sources))
	for _, src := range req.Sources {
		base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		if n := seen[base]; n > 0 {
			seen[base]++
			base += "-" + strconv.Itoa(n)
		} else {
			seen[base] = 1
		}
		obj := filepath.Join(objDir, base+c.objectExt())
		jobs = append(jobs, compileJob{src: src, obj: obj, args: c.compileArgs(req, src, obj)})
	}
	return jobs
}

// Build compiles every source and archives the objects. It returns the path
// of the archive.
func (c *Compiler) Build(ctx context.Context, req *Request) (string, error) {
	if len(req.Sources) == 0 {
		return "", fmt.Errorf("%w: no sources for %s", ErrCompile, req.Archive)
	}

	objDir := filepath.Join(req.OutDir, req.Archive+".dir")
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	jobs := c.plan(req, objDir)
	bar := msg.NewProgressBar(len(jobs), 2)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(c.Jobs, 1))
	for _, job := range jobs {
		eg.Go(func() error {
			if !bar.Enabled() {
				msg.Info("CC %s", job.src)
			}
			if err := c.Run(ctx, c.CC, job.args...); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrCompile, job.src, err)
			}
			bar.Step()
			return nil
		})
	}
	err := eg.Wait()
	bar.Finish()
	if err != nil {
		return "", err
	}

	objs := make([]string, len(jobs))
	for i, job := range jobs {
		objs[i] = job.obj
	}

	out := filepath.Join(req.OutDir, ArchiveFile(req.Archive, c.msvc()))
	// ar appends to an existing archive, so start from scratch
	if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	msg.Info("AR %s", out)
	if err := c.Run(ctx, c.AR, c.archiveArgs(out, objs)...); err != nil {
		return "", fmt.Errorf("%w: archiving %s: %w", ErrCompile, out, err)
	}
	return out, nil
}

// Directives tells the linker where the archive is and to link it statically
func Directives(outDir, archive string) []directive.Directive {
	return []directive.Directive{
		directive.LinkSearch(directive.KindNative, outDir),
		directive.Static(archive),
	}
}

// runCommand runs a tool with its output nested under ours on stderr, since
// stdout carries directives
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := execCommandContext(ctx, name, args...)
	cmd.Stdout = &msg.IndentWriter{Indent: "    ", W: msg.Output}
	cmd.Stderr = &msg.IndentWriter{Indent: "    ", W: msg.Output}
	msg.Debug("running %s %s", name, strings.Join(args, " "))
	return cmd.Run()
}
