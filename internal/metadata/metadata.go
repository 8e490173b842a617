// Package metadata is the typed form of the key/value channel between the
// installation resolver and the stages that consume its result.
//
// The resolver encodes a Metadata value as directives; the orchestrator
// republishes each one to dependent stages as DEP_<LINKS>_<KEY> environment
// variables, which FromEnv decodes and validates.
package metadata

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/pelletier/go-toml/v2"
)

// Delimiter separates the elements of a sequence encoded in one value
const Delimiter = ";"

// Filename is written by the resolver next to its other outputs
const Filename = "mlir-sys.toml"

const (
	KeyConfigPath  = "config_path"
	KeyIncludeDirs = "include_dirs"
	KeyLibraryName = "library_name"
	KeyLinkLibs    = "link_libs"
	KeyLibDirs     = "lib_dirs"
)

var (
	ErrMissingEnv = errors.New("missing required environment variable")
	ErrInvalid    = errors.New("invalid metadata")
)

type Metadata struct {
	ConfigPath  string   `toml:"config_path,omitempty"`
	IncludeDirs []string `toml:"include_dirs"`
	LibraryName string   `toml:"library_name,omitempty"`
	LinkLibs    []string `toml:"link_libs"`
	// LibDirs are the linker search paths, the library directory first
	LibDirs []string `toml:"lib_dirs,omitempty"`
}

// JoinList encodes items as a single value. Items must be non-empty and must
// not contain the delimiter, otherwise splitting would not give them back.
func JoinList(items []string) (string, error) {
	for i, item := range items {
		if item == "" {
			return "", fmt.Errorf("%w: element %d is empty", ErrInvalid, i)
		}
		if strings.Contains(item, Delimiter) {
			return "", fmt.Errorf("%w: element %q contains %q", ErrInvalid, item, Delimiter)
		}
	}
	return strings.Join(items, Delimiter), nil
}

// SplitList is the inverse of JoinList; an empty value is an empty sequence
func SplitList(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	items := strings.Split(value, Delimiter)
	if slices.Contains(items, "") {
		return nil, fmt.Errorf("%w: empty element in %q", ErrInvalid, value)
	}
	return items, nil
}

func (m *Metadata) Validate() error {
	if len(m.IncludeDirs) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalid, KeyIncludeDirs)
	}
	if _, err := JoinList(m.IncludeDirs); err != nil {
		return fmt.Errorf("%s: %w", KeyIncludeDirs, err)
	}
	if _, err := JoinList(m.LinkLibs); err != nil {
		return fmt.Errorf("%s: %w", KeyLinkLibs, err)
	}
	if _, err := JoinList(m.LibDirs); err != nil {
		return fmt.Errorf("%s: %w", KeyLibDirs, err)
	}
	return nil
}

// Directives encodes m in the order the resolver publishes it
func (m *Metadata) Directives() ([]directive.Directive, error) {
	includeDirs, err := JoinList(m.IncludeDirs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyIncludeDirs, err)
	}
	linkLibs, err := JoinList(m.LinkLibs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLinkLibs, err)
	}
	libDirs, err := JoinList(m.LibDirs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLibDirs, err)
	}

	var out []directive.Directive
	if m.ConfigPath != "" {
		out = append(out, directive.Metadata(KeyConfigPath, m.ConfigPath))
	}
	out = append(out, directive.Metadata(KeyIncludeDirs, includeDirs))
	if m.LibraryName != "" {
		out = append(out, directive.Metadata(KeyLibraryName, m.LibraryName))
	}
	if libDirs != "" {
		out = append(out, directive.Metadata(KeyLibDirs, libDirs))
	}
	out = append(out, directive.Metadata(KeyLinkLibs, linkLibs))
	return out, nil
}

// EnvName returns the variable under which the orchestrator exposes key of
// the dependency declaring `links = "<links>"`
func EnvName(links, key string) string {
	links = strings.ReplaceAll(strings.ToUpper(links), "-", "_")
	return "DEP_" + links + "_" + strings.ToUpper(key)
}

// EnvNames lists every variable FromEnv reads, for change tracking
func EnvNames(links string) []string {
	return []string{
		EnvName(links, KeyIncludeDirs),
		EnvName(links, KeyLinkLibs),
		EnvName(links, KeyConfigPath),
		EnvName(links, KeyLibraryName),
		EnvName(links, KeyLibDirs),
	}
}

type LookupFunc func(key string) (string, bool)

// FromEnv decodes and validates the metadata published for links.
// include_dirs and link_libs are required; all missing variables are reported together.
func FromEnv(lookup LookupFunc, links string) (*Metadata, error) {
	values := make(map[string]string)
	var missing []string
	for _, key := range []string{KeyIncludeDirs, KeyLinkLibs, KeyConfigPath, KeyLibraryName, KeyLibDirs} {
		name := EnvName(links, key)
		v, ok := lookup(name)
		if !ok {
			if key == KeyIncludeDirs || key == KeyLinkLibs {
				missing = append(missing, name)
			}
			continue
		}
		values[key] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return fromValues(values)
}

// FromDirectives decodes metadata from a captured resolver output
func FromDirectives(ds []directive.Directive) (*Metadata, error) {
	values := make(map[string]string)
	for _, d := range ds {
		if d.IsMetadata() {
			values[d.Key] = d.Value
		}
	}
	for _, key := range []string{KeyIncludeDirs, KeyLinkLibs} {
		if _, ok := values[key]; !ok {
			return nil, fmt.Errorf("%w: no %s directive", ErrInvalid, key)
		}
	}
	return fromValues(values)
}

func fromValues(values map[string]string) (*Metadata, error) {
	var err error
	m := &Metadata{
		ConfigPath:  values[KeyConfigPath],
		LibraryName: values[KeyLibraryName],
	}
	if m.IncludeDirs, err = SplitList(values[KeyIncludeDirs]); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyIncludeDirs, err)
	}
	if m.LinkLibs, err = SplitList(values[KeyLinkLibs]); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLinkLibs, err)
	}
	if m.LibDirs, err = SplitList(values[KeyLibDirs]); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLibDirs, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteFile stores m as TOML
func (m *Metadata) WriteFile(path string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads metadata written by WriteFile, rejecting unknown keys
func ReadFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := new(Metadata)
	dec := toml.NewDecoder(bufio.NewReader(f))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalid, path, derr.String())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
