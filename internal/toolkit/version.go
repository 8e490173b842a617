package toolkit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultMajor is the toolkit major version the bindings are written against
const DefaultMajor = 18

// ErrVersionMismatch means the installed toolkit is not the pinned major
// version. Headers of another major version describe a different ABI.
var ErrVersionMismatch = errors.New("incompatible toolkit version")

// CheckVersion passes only versions that begin with "<major>."
func CheckVersion(version string, major int) error {
	if strings.HasPrefix(version, strconv.Itoa(major)+".") {
		return nil
	}
	found := version
	if v := "v" + version; semver.IsValid(v) {
		found = fmt.Sprintf("%s, major version %s", version, strings.TrimPrefix(semver.Major(v), "v"))
	}
	return fmt.Errorf("%w: need %d.x.x, found %s", ErrVersionMismatch, major, found)
}

// PrefixEnv is the variable that points at a toolkit installation root
func PrefixEnv(major int) string {
	return fmt.Sprintf("MLIR_SYS_%d0_PREFIX", major)
}
