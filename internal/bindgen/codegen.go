package bindgen

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/doug-q/mlir-sys/internal/msg"
)

var ErrGenerator = errors.New("binding generator failed")

var execCommandContext = exec.CommandContext

// Request is everything the header translator is given
type Request struct {
	Header string
	Output string
	// ShimPath is where the translator writes out-of-line definitions of
	// static functions, without the .c extension. Empty disables wrapping.
	ShimPath  string
	Args      []string
	ClangArgs []string
}

// CodeGenerator translates a C header into bindings
type CodeGenerator interface {
	Generate(ctx context.Context, req *Request) error
}

// CommandGenerator drives a bindgen-compatible executable
type CommandGenerator struct {
	Path string
}

func (g *CommandGenerator) Args(req *Request) []string {
	args := []string{req.Header, "-o", req.Output}
	if req.ShimPath != "" {
		args = append(args, "--wrap-static-fns", "--wrap-static-fns-path", req.ShimPath)
	}
	args = append(args, req.Args...)
	args = append(args, "--")
	return append(args, req.ClangArgs...)
}

func (g *CommandGenerator) Generate(ctx context.Context, req *Request) error {
	args := g.Args(req)
	cmd := execCommandContext(ctx, g.Path, args...)
	cmd.Stdout = &msg.IndentWriter{Indent: "    ", W: msg.Output}
	cmd.Stderr = &msg.IndentWriter{Indent: "    ", W: msg.Output}

	msg.Debug("running %s %s", g.Path, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGenerator, g.Path, err)
	}
	return nil
}
