package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestListRoundTrip(t *testing.T) {
	for _, items := range [][]string{
		{"z", "xml2", "stdc++"},
		{"/opt/llvm/include"},
		{"C:/Program Files/LLVM/include", "D:/extra"},
		nil,
	} {
		value, err := JoinList(items)
		require.NoError(t, err)
		got, err := SplitList(value)
		require.NoError(t, err)
		if diff := cmp.Diff(items, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestJoinListRejects(t *testing.T) {
	_, err := JoinList([]string{"a", ""})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = JoinList([]string{"a;b"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSplitListRejectsEmptyTokens(t *testing.T) {
	for _, v := range []string{"a;;b", ";a", "a;"} {
		_, err := SplitList(v)
		assert.ErrorIs(t, err, ErrInvalid, v)
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DEP_MLIR_LINK_LIBS", EnvName("mlir", KeyLinkLibs))
	assert.Equal(t, "DEP_MLIR_SYS_INCLUDE_DIRS", EnvName("mlir-sys", KeyIncludeDirs))
}

func TestDirectivesThenFromEnv(t *testing.T) {
	m := &Metadata{
		ConfigPath:  "/opt/llvm",
		IncludeDirs: []string{"/opt/llvm/include"},
		LibraryName: "MLIR-C",
		LinkLibs:    []string{"z", "xml2", "stdc++"},
		LibDirs:     []string{"/opt/llvm/lib", "/usr/lib"},
	}
	ds, err := m.Directives()
	require.NoError(t, err)
	assert.Equal(t, []directive.Directive{
		directive.Metadata("config_path", "/opt/llvm"),
		directive.Metadata("include_dirs", "/opt/llvm/include"),
		directive.Metadata("library_name", "MLIR-C"),
		directive.Metadata("lib_dirs", "/opt/llvm/lib;/usr/lib"),
		directive.Metadata("link_libs", "z;xml2;stdc++"),
	}, ds)

	// what the orchestrator does between stages
	env := make(map[string]string)
	for _, d := range ds {
		env[EnvName("mlir", d.Key)] = d.Value
	}

	got, err := FromEnv(mapLookup(env), "mlir")
	require.NoError(t, err)
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	fromDirectives, err := FromDirectives(ds)
	require.NoError(t, err)
	assert.Equal(t, m, fromDirectives)
}

func TestFromEnvMissing(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"DEP_MLIR_INCLUDE_DIRS": "/opt/llvm/include",
	}), "mlir")
	require.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "DEP_MLIR_LINK_LIBS")
	assert.NotContains(t, err.Error(), "DEP_MLIR_CONFIG_PATH")

	_, err = FromEnv(mapLookup(nil), "mlir")
	require.ErrorIs(t, err, ErrMissingEnv)
	assert.Contains(t, err.Error(), "DEP_MLIR_INCLUDE_DIRS, DEP_MLIR_LINK_LIBS")
}

func TestFromEnvInvalid(t *testing.T) {
	_, err := FromEnv(mapLookup(map[string]string{
		"DEP_MLIR_INCLUDE_DIRS": "",
		"DEP_MLIR_LINK_LIBS":    "z",
	}), "mlir")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = FromEnv(mapLookup(map[string]string{
		"DEP_MLIR_INCLUDE_DIRS": "/a",
		"DEP_MLIR_LINK_LIBS":    "z;;m",
	}), "mlir")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlir-sys.toml")
	m := &Metadata{
		IncludeDirs: []string{"/opt/llvm/include"},
		LibraryName: "MLIR-C",
		LinkLibs:    []string{"stdc++"},
	}
	require.NoError(t, m.WriteFile(path))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	require.NoError(t, os.WriteFile(path, []byte("include_dirs = [\"/a\"]\nlink_libs = []\nbogus = 1\n"), 0o644))
	_, err = ReadFile(path)
	assert.ErrorIs(t, err, ErrInvalid)
}
