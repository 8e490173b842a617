package bindgen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/doug-q/mlir-sys/internal/bindgen/shim"
	"github.com/doug-q/mlir-sys/internal/directive"
	"github.com/doug-q/mlir-sys/internal/metadata"
	"github.com/doug-q/mlir-sys/internal/toolkit"
	"github.com/google/go-cmp/cmp"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodeGen writes placeholder bindings and shim source
type fakeCodeGen struct {
	reqs    []*Request
	err     error
	noShim  bool
	content string
}

func (f *fakeCodeGen) Generate(_ context.Context, req *Request) error {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return f.err
	}
	content := f.content
	if content == "" {
		content = "pub fn mlirContextCreate();\n"
	}
	if err := os.WriteFile(req.Output, []byte(content), 0o644); err != nil {
		return err
	}
	if req.ShimPath != "" && !f.noShim {
		return os.WriteFile(req.ShimPath+".c", []byte("int x;\n"), 0o644)
	}
	return nil
}

type fakeRunner struct {
	calls [][]string
	out   string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.out), nil
}

type fakeBuild struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeBuild) run(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	return nil
}

type fixture struct {
	root, out string
	env       map[string]string
	codegen   *fakeCodeGen
	runner    *fakeRunner
	build     *fakeBuild
	compilers int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		root:    t.TempDir(),
		out:     t.TempDir(),
		codegen: &fakeCodeGen{},
		runner:  &fakeRunner{out: "-I/opt/llvm/include -D_GNU_SOURCE -DNAME=\"a b\"\n"},
		build:   &fakeBuild{},
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "wrapper.h"), []byte("#include <mlir-c/IR.h>\n"), 0o644))
	f.env = map[string]string{
		EnvOutDir:               f.out,
		EnvSourceRoot:           f.root,
		"DEP_MLIR_INCLUDE_DIRS": "/opt/llvm/include",
		"DEP_MLIR_LINK_LIBS":    "MLIR-C;z;stdc++",
		"DEP_MLIR_CONFIG_PATH":  "/opt/llvm",
		"DEP_MLIR_LIBRARY_NAME": "MLIR-C",
	}
	return f
}

func (f *fixture) lookup(k string) (string, bool) {
	v, ok := f.env[k]
	return v, ok
}

func (f *fixture) generator(level Level) *Generator {
	return &Generator{
		Options: Options{
			Level:    level,
			Links:    "mlir",
			ToolName: "llvm-config",
			Header:   "wrapper.h",
			Output:   "bindings.rs",
			ShimName: "extern",
			Archive:  "mlir_extern",
			Platform: toolkit.Platform{OS: "linux", Env: "gnu", Arch: "x86_64"},
		},
		CodeGen: f.codegen,
		Runner:  f.runner,
		NewCompiler: func() (*shim.Compiler, error) {
			f.compilers++
			return &shim.Compiler{CC: "cc", AR: "ar", Jobs: 1, Run: f.build.run}, nil
		},
	}
}

func strs(ds []directive.Directive) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

func TestLoadInputsMissing(t *testing.T) {
	f := newFixture(t)
	delete(f.env, EnvOutDir)
	delete(f.env, "DEP_MLIR_LINK_LIBS")

	_, err := LoadInputs(f.lookup, "mlir", "")
	require.ErrorIs(t, err, metadata.ErrMissingEnv)
	assert.Contains(t, err.Error(), EnvOutDir)

	f.env[EnvOutDir] = f.out
	_, err = LoadInputs(f.lookup, "mlir", "")
	require.ErrorIs(t, err, metadata.ErrMissingEnv)
	assert.Contains(t, err.Error(), "DEP_MLIR_LINK_LIBS")
}

func TestLoadInputsFromFile(t *testing.T) {
	f := newFixture(t)
	for _, name := range metadata.EnvNames("mlir") {
		delete(f.env, name)
	}
	file := filepath.Join(f.out, "mlir-sys.toml")
	meta := &metadata.Metadata{IncludeDirs: []string{"/x/include"}, LinkLibs: []string{"MLIR-C"}}
	require.NoError(t, meta.WriteFile(file))

	in, err := LoadInputs(f.lookup, "mlir", file)
	require.NoError(t, err)
	assert.Equal(t, []string{"/x/include"}, in.Meta.IncludeDirs)
	assert.Equal(t, f.root, in.SourceRoot)
}

func TestBuildMissingEnvSpawnsNothing(t *testing.T) {
	f := newFixture(t)
	delete(f.env, "DEP_MLIR_INCLUDE_DIRS")

	_, err := f.generator(LevelFull).Build(context.Background(), f.lookup)
	require.ErrorIs(t, err, metadata.ErrMissingEnv)
	assert.Empty(t, f.codegen.reqs)
	assert.Empty(t, f.runner.calls)
	assert.Empty(t, f.build.calls)
	assert.Zero(t, f.compilers)
}

func TestBuildBasic(t *testing.T) {
	f := newFixture(t)

	res, err := f.generator(LevelBasic).Build(context.Background(), f.lookup)
	require.NoError(t, err)

	require.Len(t, f.codegen.reqs, 1)
	req := f.codegen.reqs[0]
	assert.Empty(t, req.ShimPath)
	assert.Equal(t, []string{"-I/opt/llvm/include", "-I" + f.root}, req.ClangArgs)
	assert.Empty(t, f.runner.calls)
	assert.Zero(t, f.compilers)

	assert.Equal(t, filepath.Join(f.out, "bindings.rs"), res.Artifact.BindingsSource)
	assert.Empty(t, res.Artifact.ShimArchive)

	want := []string{
		"cargo:rerun-if-env-changed=DEP_MLIR_INCLUDE_DIRS",
		"cargo:rerun-if-env-changed=DEP_MLIR_LINK_LIBS",
		"cargo:rerun-if-env-changed=DEP_MLIR_CONFIG_PATH",
		"cargo:rerun-if-env-changed=DEP_MLIR_LIBRARY_NAME",
		"cargo:rerun-if-env-changed=DEP_MLIR_LIB_DIRS",
		"cargo:rerun-if-changed=" + filepath.Join(f.root, "wrapper.h"),
		"cargo:rustc-link-lib=dylib=MLIR-C",
		"cargo:rustc-link-lib=dylib=z",
		"cargo:rustc-link-lib=dylib=stdc++",
	}
	if diff := cmp.Diff(want, strs(res.Directives)); diff != "" {
		t.Errorf("directives mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildShim(t *testing.T) {
	f := newFixture(t)

	res, err := f.generator(LevelShim).Build(context.Background(), f.lookup)
	require.NoError(t, err)

	req := f.codegen.reqs[0]
	assert.Equal(t, filepath.Join(f.out, "extern"), req.ShimPath)
	assert.Equal(t, []string{"-I/opt/llvm/include", "-I" + f.root}, req.ClangArgs)
	assert.Empty(t, f.runner.calls)

	// one compile, one archive
	require.Len(t, f.build.calls, 2)
	assert.Equal(t, "cc", f.build.calls[0][0])
	assert.Contains(t, f.build.calls[0], filepath.Join(f.out, "extern.c"))
	assert.Equal(t, []string{"ar", "rcs", filepath.Join(f.out, "libmlir_extern.a")}, f.build.calls[1][:3])

	assert.Equal(t, filepath.Join(f.out, "extern.c"), res.Artifact.ShimSource)
	assert.Equal(t, filepath.Join(f.out, "libmlir_extern.a"), res.Artifact.ShimArchive)

	got := strs(res.Directives)
	assert.Equal(t, []string{
		"cargo:rustc-link-search=native=" + f.out,
		"cargo:rustc-link-lib=static=mlir_extern",
	}, got[len(got)-2:])
}

func TestBuildFull(t *testing.T) {
	f := newFixture(t)
	g := f.generator(LevelFull)
	g.ClangArgs = []string{"-DEXTRA"}

	_, err := g.Build(context.Background(), f.lookup)
	require.NoError(t, err)

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, []string{filepath.Join("/opt/llvm", "bin", "llvm-config"), "--link-shared", "--cflags"}, f.runner.calls[0])

	want := []string{
		"-I/opt/llvm/include",
		"-I" + f.root,
		"-I/opt/llvm/include",
		"-D_GNU_SOURCE",
		"-DNAME=a b",
		"-DEXTRA",
	}
	assert.Equal(t, want, f.codegen.reqs[0].ClangArgs)
}

func TestBuildGeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.codegen.err = errors.New("exit status 1")

	res, err := f.generator(LevelShim).Build(context.Background(), f.lookup)
	require.Error(t, err)
	assert.Nil(t, res)
	// the shim is never compiled without bindings
	assert.Empty(t, f.build.calls)
}

func TestBuildMissingShimSource(t *testing.T) {
	f := newFixture(t)
	f.codegen.noShim = true

	_, err := f.generator(LevelShim).Build(context.Background(), f.lookup)
	require.ErrorIs(t, err, ErrGenerator)
	assert.Empty(t, f.build.calls)
}

func TestBuildMissingHeader(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, "wrapper.h")))

	_, err := f.generator(LevelBasic).Build(context.Background(), f.lookup)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, f.codegen.reqs)
}

func TestBuildWatchAndShimSources(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"include/a.h", "include/nested/b.h", "shim/extra.c", "shim/notes.txt"} {
		full := filepath.Join(f.root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, nil, 0o644))
	}

	g := f.generator(LevelShim)
	g.Watch = []string{"include/**/*.h"}
	g.ShimSources = []string{"shim/*.c"}
	g.Tracked = []string{filepath.Join(f.root, "mlirsys.toml")}

	res, err := g.Build(context.Background(), f.lookup)
	require.NoError(t, err)

	got := strs(res.Directives)
	assert.Contains(t, got, "cargo:rerun-if-changed="+filepath.Join(f.root, "include", "a.h"))
	assert.Contains(t, got, "cargo:rerun-if-changed="+filepath.Join(f.root, "include", "nested", "b.h"))
	assert.Contains(t, got, "cargo:rerun-if-changed="+filepath.Join(f.root, "mlirsys.toml"))

	// two compiles, then the archive
	require.Len(t, f.build.calls, 3)
	var compiled []string
	for _, call := range f.build.calls[:2] {
		compiled = append(compiled, strings.Join(call, " "))
	}
	assert.Contains(t, strings.Join(compiled, "\n"), filepath.Join(f.root, "shim", "extra.c"))
	assert.NotContains(t, strings.Join(compiled, "\n"), "notes.txt")
}

func TestBuildPatches(t *testing.T) {
	f := newFixture(t)
	f.codegen.content = "pub fn mlirContextCreate();\n"

	dmp := diffmatchpatch.New()
	patchText := dmp.PatchToText(dmp.PatchMake("pub fn mlirContextCreate();\n", "pub unsafe fn mlirContextCreate();\n"))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "bindings.patch"), []byte(patchText), 0o644))

	g := f.generator(LevelBasic)
	g.Patches = []string{"bindings.patch"}
	res, err := g.Build(context.Background(), f.lookup)
	require.NoError(t, err)

	data, err := os.ReadFile(res.Artifact.BindingsSource)
	require.NoError(t, err)
	assert.Equal(t, "pub unsafe fn mlirContextCreate();\n", string(data))
	assert.Contains(t, strs(res.Directives), "cargo:rerun-if-changed="+filepath.Join(f.root, "bindings.patch"))
}

func TestApplyPatchRejects(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "bindings.rs")
	require.NoError(t, os.WriteFile(target, []byte("something else entirely\n"), 0o644))

	dmp := diffmatchpatch.New()
	patchText := dmp.PatchToText(dmp.PatchMake("pub fn mlirContextCreate();\n", "pub unsafe fn mlirContextCreate();\n"))

	err := applyPatch(target, patchText)
	require.ErrorIs(t, err, ErrPatch)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "something else entirely\n", string(data))
}

func TestCommandGeneratorArgs(t *testing.T) {
	g := &CommandGenerator{Path: "bindgen"}

	basic := g.Args(&Request{Header: "/src/wrapper.h", Output: "/out/bindings.rs", ClangArgs: []string{"-I/inc"}})
	assert.Equal(t, []string{"/src/wrapper.h", "-o", "/out/bindings.rs", "--", "-I/inc"}, basic)

	shimmed := g.Args(&Request{
		Header:    "/src/wrapper.h",
		Output:    "/out/bindings.rs",
		ShimPath:  "/out/extern",
		Args:      []string{"--no-layout-tests"},
		ClangArgs: []string{"-I/inc"},
	})
	assert.Equal(t, []string{
		"/src/wrapper.h", "-o", "/out/bindings.rs",
		"--wrap-static-fns", "--wrap-static-fns-path", "/out/extern",
		"--no-layout-tests", "--", "-I/inc",
	}, shimmed)
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"basic", "shim", "full"} {
		l, err := ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, Level(s), l)
	}
	_, err := ParseLevel("everything")
	assert.Error(t, err)

	assert.False(t, LevelBasic.WrapsStaticFns())
	assert.True(t, LevelShim.WrapsStaticFns())
	assert.False(t, LevelShim.UsesToolCflags())
	assert.True(t, LevelFull.UsesToolCflags())
}
