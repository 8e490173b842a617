package shim

import (
	"os/exec"
	"strings"
)

// TODO: zig cc
var commonCCompilers = []string{"clang", "gcc", "icx", "icc", "tcc", "cl"}

var lookPath = exec.LookPath

// FindCompiler attempts to find a suitable C compiler: $CC first, then the
// first well-known compiler on PATH. It returns "" when there is none.
func FindCompiler(lookup func(string) (string, bool)) string {
	if cc, ok := lookup("CC"); ok && cc != "" {
		return cc
	}

	for _, compiler := range commonCCompilers {
		path, err := lookPath(compiler)
		if err == nil {
			return path
		}
	}

	return ""
}

// FindArchiver returns $AR, or the archiver matching the compiler
func FindArchiver(lookup func(string) (string, bool), cc string) string {
	if ar, ok := lookup("AR"); ok && ar != "" {
		return ar
	}
	if isMSVC(cc) {
		return "lib"
	}
	return "ar"
}

// isMSVC reports whether cc is cl.exe or clang-cl, which take MSVC-style flags
func isMSVC(cc string) bool {
	// windows paths may reach us on any host
	base := strings.ToLower(cc[strings.LastIndexAny(cc, `/\`)+1:])
	base = strings.TrimSuffix(base, ".exe")
	return base == "cl" || base == "clang-cl"
}

// ArchiveFile is the file name the linker looks for when asked for name
func ArchiveFile(name string, msvc bool) string {
	if msvc {
		return name + ".lib"
	}
	return "lib" + name + ".a"
}
