package toolkit

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// TokenKind classifies one word of --system-libs output
type TokenKind int

const (
	// TokenName is a plain library name such as `-lz` or `z`
	TokenName TokenKind = iota
	// TokenPath is an absolute path to a library file such as `/usr/lib/libxml2.so`
	TokenPath
)

// LibToken is a classified --system-libs word
type LibToken struct {
	Kind TokenKind
	// Name is the bare library name passed to the linker
	Name string
	// Dir is the directory holding the library, only set for TokenPath
	Dir string
}

// SystemLibs is the parsed form of --system-libs output
type SystemLibs struct {
	Names       []string
	SearchPaths []string
}

// isAbs accepts both native absolute paths and slash-rooted ones, since
// windows builds of the tool print either
func isAbs(p string) bool {
	return strings.HasPrefix(p, "/") || filepath.IsAbs(p)
}

// ClassifyToken applies the rules for a single token:
//
//   - a leading -l is removed;
//   - an absolute path yields its parent directory and the file name cut at
//     its first dot with any lib prefix removed (/usr/lib/libxml2.so.2 -> xml2);
//   - anything else is the library name as is.
func ClassifyToken(tok string) LibToken {
	tok = strings.TrimPrefix(tok, "-l")
	if !isAbs(tok) {
		return LibToken{Kind: TokenName, Name: tok}
	}

	// the tool may use either separator regardless of the host
	p := filepath.ToSlash(tok)
	dir, file := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "/"
	}

	name, _, _ := strings.Cut(file, ".")
	// a single lib prefix; liblibfoo.so names the library libfoo
	name = strings.TrimPrefix(name, "lib")
	return LibToken{Kind: TokenPath, Name: name, Dir: filepath.FromSlash(dir)}
}

// ParseSystemLibs splits --system-libs output on whitespace and classifies
// every token, keeping the order the tool printed them in. A token that
// yields no library name is an error.
func ParseSystemLibs(output string) (SystemLibs, error) {
	var libs SystemLibs
	for _, tok := range strings.Fields(output) {
		lt := ClassifyToken(tok)
		if lt.Name == "" {
			return SystemLibs{}, fmt.Errorf("%w: no library name in %q", ErrTool, tok)
		}
		if lt.Kind == TokenPath {
			libs.SearchPaths = append(libs.SearchPaths, lt.Dir)
		}
		libs.Names = append(libs.Names, lt.Name)
	}
	return libs, nil
}
