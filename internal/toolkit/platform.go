package toolkit

import (
	"os"
	"runtime"
)

// Platform is the target a build stage produces artifacts for. OS uses Go's
// GOOS spelling; Env is the target ABI environment (msvc, gnu, musl, ...).
type Platform struct {
	OS   string `toml:"os"`
	Env  string `toml:"env,omitempty"`
	Arch string `toml:"arch"`
}

// orchestrator spellings that differ from GOOS
var osAliases = map[string]string{
	"macos": "darwin",
}

// HostPlatform describes the platform this process runs on
func HostPlatform() Platform {
	p := Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if p.OS == "windows" {
		p.Env = "msvc"
	}
	return p
}

// TargetPlatform reads the target description the orchestrator passes to
// build stages (CARGO_CFG_TARGET_*), falling back to the host for anything unset
func TargetPlatform(lookup func(string) (string, bool)) Platform {
	p := HostPlatform()
	if goos, ok := lookup("CARGO_CFG_TARGET_OS"); ok && goos != "" {
		if alias, ok := osAliases[goos]; ok {
			goos = alias
		}
		p.OS = goos
		p.Env = ""
	}
	if env, ok := lookup("CARGO_CFG_TARGET_ENV"); ok {
		p.Env = env
	}
	if arch, ok := lookup("CARGO_CFG_TARGET_ARCH"); ok && arch != "" {
		p.Arch = arch
	}
	return p
}

func DefaultPlatform() Platform {
	return TargetPlatform(os.LookupEnv)
}

// RuntimeLib returns the C++ standard library the toolkit's shared libraries
// need at link time, or "" when the toolchain links it implicitly
func RuntimeLib(p Platform) string {
	switch {
	case p.Env == "msvc":
		return ""
	case p.OS == "darwin" || p.OS == "ios":
		return "c++"
	default:
		return "stdc++"
	}
}
