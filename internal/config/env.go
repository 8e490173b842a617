package config

import (
	"os"
	"strings"

	"github.com/doug-q/mlir-sys/internal/toolkit"
)

// Env is what expressions in mlirsys.toml can see
type Env struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	TargetEnv  string            `expr:"target_env"`
	Environ    map[string]string `expr:"environ"`
}

func NewEnv(p toolkit.Platform) Env {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			environ[k] = v
		}
	}

	return Env{
		TargetOS:   p.OS,
		TargetArch: p.Arch,
		TargetEnv:  p.Env,
		Environ:    environ,
	}
}
