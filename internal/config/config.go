package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/doug-q/mlir-sys/internal/toolkit"
	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
)

// Filename is looked up in the source root of the crate being built
const Filename = "mlirsys.toml"

type Config struct {
	Toolkit  ToolkitSection  `toml:"toolkit"`
	Bindings BindingsSection `toml:"bindings"`
	Shim     ShimSection     `toml:"shim"`
}

// ToolkitSection defines the [toolkit] section
type ToolkitSection struct {
	Major   int    `toml:"major"`
	Tool    string `toml:"tool"`
	Library string `toml:"library"`
	// Links is the name the resolver's metadata is published under (DEP_<LINKS>_*)
	Links string `toml:"links"`
}

// BindingsSection defines the [bindings] section
type BindingsSection struct {
	Header    string   `toml:"header"`
	Generator string   `toml:"generator"`
	Output    string   `toml:"output"`
	Shim      string   `toml:"shim"`
	ClangArgs []string `toml:"clang_args"`
	Args      []string `toml:"args"`
	Watch     []string `toml:"watch"`
	Patches   []string `toml:"patches"`
}

// ShimSection defines the [shim] section
type ShimSection struct {
	Archive string   `toml:"archive"`
	Sources []string `toml:"sources"`
	Cflags  []string `toml:"cflags"`
	Jobs    int      `toml:"jobs"`
}

func Default() *Config {
	cfg := new(Config)
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	setDefault(&cfg.Toolkit.Tool, toolkit.DefaultToolName)
	setDefault(&cfg.Toolkit.Library, toolkit.DefaultLibraryName)
	setDefault(&cfg.Toolkit.Links, "mlir")
	if cfg.Toolkit.Major == 0 {
		cfg.Toolkit.Major = toolkit.DefaultMajor
	}
	setDefault(&cfg.Bindings.Header, toolkit.DefaultHeader)
	setDefault(&cfg.Bindings.Generator, "bindgen")
	setDefault(&cfg.Bindings.Output, "bindings.rs")
	setDefault(&cfg.Bindings.Shim, "extern")
	setDefault(&cfg.Shim.Archive, "mlir_extern")
}

func setDefault(s *string, v string) {
	if *s == "" {
		*s = v
	}
}

func (cfg *Config) validate() error {
	if cfg.Toolkit.Major < 0 {
		return fmt.Errorf("toolkit.major must be positive, got %d", cfg.Toolkit.Major)
	}
	if cfg.Shim.Jobs < 0 {
		return fmt.Errorf("shim.jobs must not be negative, got %d", cfg.Shim.Jobs)
	}
	if filepath.IsAbs(cfg.Bindings.Header) {
		return fmt.Errorf("bindings.header must be relative to the source root, got %q", cfg.Bindings.Header)
	}
	// these name files inside the output directory
	for name, v := range map[string]string{
		"bindings.output": cfg.Bindings.Output,
		"bindings.shim":   cfg.Bindings.Shim,
		"shim.archive":    cfg.Shim.Archive,
	} {
		if strings.ContainsAny(v, `/\`) {
			return fmt.Errorf("%s must be a plain file name, got %q", name, v)
		}
	}
	return nil
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return errors.New("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return errors.New("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return errors.New("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func marshal(v any) ([]byte, error) {
	b, err := toml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("re-encoding config: %w", err)
	}
	return b, nil
}

// unmarshalConditionalSection parses a section, then merges in every sub-table
// whose key is an expression that evaluates to true for env
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env Env) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			if _, err := expr.Compile(key, expr.Env(env)); err != nil {
				return fmt.Errorf("invalid condition [%s.%q]: %w", name, key, err)
			}
			conditionalFields[key] = subMap
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		data, err := marshal(baseFields)
		if err != nil {
			return err
		}
		if err := strictUnmarshal(data, dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}

	for expression, condMap := range conditionalFields {
		program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		data, err := marshal(condMap)
		if err != nil {
			return err
		}
		var condSection T
		if err := strictUnmarshal(data, &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

func strictUnmarshal(data []byte, dst any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env Env) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		fmt.Fprintf(&builder, "%v", result)
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env Env) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func Parse(rdr io.Reader, env Env) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	for key := range rawConfig {
		switch key {
		case "toolkit", "bindings", "shim":
		default:
			return nil, fmt.Errorf("unknown section [%s]", key)
		}
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := new(Config)
	if err := unmarshalConditionalSection(rawConfig, "toolkit", &cfg.Toolkit, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "bindings", &cfg.Bindings, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "shim", &cfg.Shim, env); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFile parses and validates a config file from a filepath
func ParseFile(path string, env Env) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Parse(bufio.NewReader(f), env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load reads mlirsys.toml from dir, or returns the defaults when there is none
func Load(dir string, env Env) (*Config, error) {
	cfg, err := ParseFile(filepath.Join(dir, Filename), env)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}
