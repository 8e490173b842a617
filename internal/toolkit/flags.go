package toolkit

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// SplitFlags splits --cflags output into separate arguments. On POSIX hosts
// the output is split like a shell would, so quoted include paths with spaces
// survive; windows paths are full of backslashes, so there we only split on
// whitespace.
func SplitFlags(output string, p Platform) ([]string, error) {
	if p.OS == "windows" {
		return strings.Fields(output), nil
	}
	parser := shellwords.NewParser()
	flags, err := parser.Parse(output)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot split flags %q: %w", ErrTool, output, err)
	}
	// the parser stops at an unquoted ; | & < or > and leaves the rest unread
	if parser.Position != -1 {
		return nil, fmt.Errorf("%w: cannot split flags %q: unquoted shell operator at character %d",
			ErrTool, output, parser.Position)
	}
	return flags, nil
}
