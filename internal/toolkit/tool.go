package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/doug-q/mlir-sys/internal/msg"
)

// ErrTool is returned when the introspection tool cannot be run, exits with
// a non-zero status, or prints something we cannot use
var ErrTool = errors.New("introspection tool failed")

var execCommandContext = exec.CommandContext

// Runner runs an external program and returns its standard output
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs directly, without a shell in between, except for
// batch scripts on windows which can only be started through cmd
type ExecRunner struct {
	Platform Platform
}

func (r ExecRunner) command(name string, args []string) (string, []string) {
	if r.Platform.OS == "windows" {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".bat", ".cmd":
			return "cmd", append([]string{"/C", name}, args...)
		}
	}
	return name, args
}

func (r ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	name, args = r.command(name, args)

	var stdout, stderr bytes.Buffer
	cmd := execCommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	msg.Debug("running %s %s", name, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return nil, fmt.Errorf("%s: %w\n%s", name, err, s)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// ToolPath returns <prefix>/bin/<name>, or just name (looked up on PATH) when
// there is no prefix
func ToolPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return filepath.Join(prefix, "bin", name)
}

// Tool is an installed llvm-config-like introspection executable
type Tool struct {
	Path   string
	runner Runner
}

func NewTool(path string, runner Runner) *Tool {
	return &Tool{Path: path, runner: runner}
}

// query asks for a single value, always in the shared-linkage variant
func (t *Tool) query(ctx context.Context, arg string) (string, error) {
	out, err := t.runner.Output(ctx, t.Path, "--link-shared", arg)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %w", ErrTool, t.Path, arg, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// queryValue is query for outputs that must not be empty
func (t *Tool) queryValue(ctx context.Context, arg string) (string, error) {
	v, err := t.query(ctx, arg)
	if err != nil {
		return "", err
	}
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return "", fmt.Errorf("%w: %s %s: unexpected output %q", ErrTool, t.Path, arg, v)
	}
	return v, nil
}

func (t *Tool) Version(ctx context.Context) (string, error) {
	return t.queryValue(ctx, "--version")
}

func (t *Tool) IncludeDir(ctx context.Context) (string, error) {
	return t.queryValue(ctx, "--includedir")
}

func (t *Tool) LibDir(ctx context.Context) (string, error) {
	return t.queryValue(ctx, "--libdir")
}

// SystemLibs returns the raw --system-libs output, which may be empty
func (t *Tool) SystemLibs(ctx context.Context) (string, error) {
	return t.query(ctx, "--system-libs")
}

// Cflags returns the raw --cflags output, which may be empty
func (t *Tool) Cflags(ctx context.Context) (string, error) {
	return t.query(ctx, "--cflags")
}
