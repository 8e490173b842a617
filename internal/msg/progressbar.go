package msg

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ProgressBar counts finished jobs. It only draws when stderr is a terminal;
// build orchestrators capture stderr to a log, which should stay line based.
type ProgressBar struct {
	Total   int
	Current int
	Indent  int
	W       io.Writer

	enabled    bool
	throbIndex int
}

var throbbers = []rune{'|', '/', '-', '\\'}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func NewProgressBar(total, indent int) *ProgressBar {
	return &ProgressBar{
		Total:   total,
		Indent:  indent,
		W:       Output,
		enabled: total > 1 && !color.NoColor && stderrIsTerminal(),
	}
}

// Enabled reports whether the bar draws anything; callers log per-job lines
// instead when it does not
func (pb *ProgressBar) Enabled() bool { return pb.enabled }

// Step marks one job as done
func (pb *ProgressBar) Step() {
	mu.Lock()
	defer mu.Unlock()
	pb.Current++
	if pb.enabled {
		pb.print(false)
	}
}

func (pb *ProgressBar) print(finish bool) {
	width := 40
	percent := float64(pb.Current) / float64(max(pb.Total, 1))

	filled := min(int(percent*float64(width)), width)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", width-filled)

	throb := throbbers[pb.throbIndex%len(throbbers)]
	pb.throbIndex++
	if finish {
		throb = ' '
	}

	fmt.Fprintf(pb.W, "\r%s%d/%d [%s] %c",
		strings.Repeat(" ", pb.Indent),
		min(pb.Current, pb.Total),
		pb.Total,
		bar,
		throb,
	)
}

func (pb *ProgressBar) Finish() {
	if !pb.enabled {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	pb.print(true)
	fmt.Fprintln(pb.W)
}
