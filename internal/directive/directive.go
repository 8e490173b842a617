// Package directive implements the line protocol a build stage uses to talk to
// the build orchestrator: one `cargo:<key>=<value>` instruction per line on stdout.
package directive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const Prefix = "cargo:"

const (
	keyLinkLib           = "rustc-link-lib"
	keyLinkSearch        = "rustc-link-search"
	keyRerunIfChanged    = "rerun-if-changed"
	keyRerunIfEnvChanged = "rerun-if-env-changed"
	keyWarning           = "warning"
)

// Link kinds understood by rustc-link-lib and rustc-link-search
const (
	KindDylib  = "dylib"
	KindStatic = "static"
	KindNative = "native"
)

var errMalformed = errors.New("malformed directive")

type Directive struct {
	Key   string
	Value string
}

func (d Directive) String() string {
	return Prefix + d.Key + "=" + d.Value
}

// IsMetadata reports whether d is a free-form key/value pair that the
// orchestrator forwards to dependent stages rather than interprets itself
func (d Directive) IsMetadata() bool {
	if strings.HasPrefix(d.Key, "rustc-") || strings.HasPrefix(d.Key, "rerun-if-") {
		return false
	}
	return d.Key != keyWarning
}

// searchKinds are the prefixes rustc-link-search accepts before the path
var searchKinds = map[string]bool{
	KindNative:   true,
	"dependency": true,
	"crate":      true,
	"framework":  true,
	"all":        true,
}

// LinkSearchDir returns the directory named by a rustc-link-search directive
func (d Directive) LinkSearchDir() (string, bool) {
	if d.Key != keyLinkSearch {
		return "", false
	}
	if kind, dir, ok := strings.Cut(d.Value, "="); ok && searchKinds[kind] {
		return dir, true
	}
	return d.Value, true
}

func withKind(kind, value string) string {
	if kind == "" {
		return value
	}
	return kind + "=" + value
}

func LinkLib(kind, name string) Directive {
	return Directive{Key: keyLinkLib, Value: withKind(kind, name)}
}

func Dylib(name string) Directive  { return LinkLib(KindDylib, name) }
func Static(name string) Directive { return LinkLib(KindStatic, name) }

func LinkSearch(kind, dir string) Directive {
	return Directive{Key: keyLinkSearch, Value: withKind(kind, dir)}
}

func Metadata(key, value string) Directive {
	return Directive{Key: key, Value: value}
}

func RerunIfChanged(path string) Directive {
	return Directive{Key: keyRerunIfChanged, Value: path}
}

func RerunIfEnvChanged(name string) Directive {
	return Directive{Key: keyRerunIfEnvChanged, Value: name}
}

func Warning(text string) Directive {
	return Directive{Key: keyWarning, Value: text}
}

// Parse parses a single `cargo:key=value` line
func Parse(line string) (Directive, error) {
	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), Prefix)
	if !ok {
		return Directive{}, fmt.Errorf("%w: missing %q prefix in %q", errMalformed, Prefix, line)
	}
	key, value, ok := strings.Cut(rest, "=")
	if !ok || key == "" {
		return Directive{}, fmt.Errorf("%w: expected key=value in %q", errMalformed, line)
	}
	return Directive{Key: key, Value: value}, nil
}

// ParseAll reads every directive line from r, skipping lines that do not
// carry the protocol prefix (stages are free to print other output)
func ParseAll(r io.Reader) ([]Directive, error) {
	var out []Directive
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, Prefix) {
			continue
		}
		d, err := Parse(line)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, sc.Err()
}

// Buffer collects directives so a stage can emit all of them or none
type Buffer struct {
	list []Directive
}

func (b *Buffer) Add(d ...Directive) {
	b.list = append(b.list, d...)
}

func (b *Buffer) Directives() []Directive {
	return b.list
}

func (b *Buffer) Len() int { return len(b.list) }

// WriteTo writes all buffered directives, one per line
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, d := range b.list {
		m, err := bw.WriteString(d.String() + "\n")
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}
