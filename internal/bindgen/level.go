package bindgen

import "fmt"

// Level selects how much of the pipeline a consuming stage runs
type Level string

const (
	// LevelBasic generates declarations only
	LevelBasic Level = "basic"
	// LevelShim also wraps static/inline functions and compiles the shim
	LevelShim Level = "shim"
	// LevelFull also passes the introspection tool's --cflags to the generator
	LevelFull Level = "full"
)

var Levels = map[string]string{
	string(LevelBasic): "Generate declarations only",
	string(LevelShim):  "Also compile a shim for static and inline functions",
	string(LevelFull):  "Shim plus the toolkit's own compiler flags (default)",
}

func ParseLevel(s string) (Level, error) {
	if _, ok := Levels[s]; !ok {
		return "", fmt.Errorf("unknown level %q", s)
	}
	return Level(s), nil
}

func (l Level) WrapsStaticFns() bool { return l == LevelShim || l == LevelFull }
func (l Level) UsesToolCflags() bool { return l == LevelFull }
