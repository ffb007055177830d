package compiler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/wvhulle/ferrous-owl/backend"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/channel"
	"github.com/wvhulle/ferrous-owl/compiler"
	"github.com/wvhulle/ferrous-owl/model"
)

const libSource = `fn make() -> String {
    let s = String::new();
    s
}

fn consume() {
    let s = make();
    drop(s);
}
`

func crate(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		location := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(location), 0o755))
		require.NoError(t, os.WriteFile(location, []byte(content), 0o644))
	}
	return root
}

func TestDetect(t *testing.T) {
	tests := []struct {
		description string
		files       map[string]string
		target      string
		name        string
		rel         string
		manifest    bool
	}{
		{
			description: "package name from manifest",
			files: map[string]string{
				"Cargo.toml": "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n",
				"src/lib.rs": libSource,
			},
			target:   "src/lib.rs",
			name:     "demo",
			rel:      "src/lib.rs",
			manifest: true,
		},
		{
			description: "manifest without package section",
			files: map[string]string{
				"sub/Cargo.toml": "[workspace]\nmembers = []\n",
			},
			target:   "sub",
			name:     "sub",
			rel:      ".",
			manifest: true,
		},
		{
			description: "no manifest",
			files:       map[string]string{"sub/main.rs": "fn main() {}"},
			target:      "sub/main.rs",
			name:        "sub",
			rel:         "main.rs",
		},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			root := crate(t, tc.files)
			t.Setenv("HOME", root)
			detected, err := compiler.Detect(context.Background(), filepath.Join(root, tc.target))
			require.NoError(t, err)
			assert.Equal(t, tc.name, detected.Name)
			assert.Equal(t, tc.rel, detected.RelativePath)
			assert.Equal(t, tc.manifest, detected.HasManifest)
		})
	}
}

func TestSources(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml":          "[package]\nname = \"demo\"\n",
		"src/lib.rs":          libSource,
		"src/nested/mod.rs":   "fn inner() {}",
		"target/debug/out.rs": "fn generated() {}",
		".git/hook.rs":        "fn hidden() {}",
		"README.md":           "# demo",
	})
	sources, err := compiler.Sources(context.Background(), afs.New(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/lib.rs", "src/nested/mod.rs"}, sources)
}

func collect(receiver *channel.Receiver[model.Workspace]) model.Workspace {
	ret := model.Workspace{}
	for {
		snapshot, ok, _ := receiver.TryRecv()
		if !ok {
			return ret
		}
		ret.Merge(snapshot)
	}
}

func TestDriver_Run(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml": "[package]\nname = \"demo\"\n",
		"src/lib.rs": libSource,
	})
	var calls atomic.Int32
	counted := backend.Func(func(ctx context.Context, unit *backend.Unit) (*model.Function, error) {
		calls.Add(1)
		return backend.NewSyntactic().Analyze(ctx, unit)
	})
	cacheDir := t.TempDir()
	driver := compiler.NewDriver(counted, compiler.WithCache(cache.New(cacheDir)))

	sender, receiver := channel.New[model.Workspace]()
	report, err := driver.Run(context.Background(), root, sender)
	require.NoError(t, err)
	assert.Equal(t, "demo", report.Crate)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 2, report.Units)
	assert.Equal(t, 2, report.Scheduled)
	assert.EqualValues(t, 2, calls.Load())

	workspace := collect(receiver)
	file := workspace.Lookup("demo", "src/lib.rs")
	require.NotNil(t, file)
	require.Len(t, file.Items, 2)
	var names []string
	for _, item := range file.Items {
		names = append(names, item.Name)
	}
	assert.ElementsMatch(t, []string{"make", "consume"}, names)

	_, err = os.Stat(driver.Cache().URL("demo"))
	assert.NoError(t, err, "cache persisted under the crate name")

	report, err = driver.Run(context.Background(), root, sender)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CacheHits)
	assert.EqualValues(t, 2, calls.Load(), "second run served from cache")
	assert.Equal(t, 2, collect(receiver).Len())

	fresh := compiler.NewDriver(counted, compiler.WithCache(cache.New(cacheDir)))
	report, err = fresh.Run(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CacheHits, "cache loaded from disk")
	assert.EqualValues(t, 2, calls.Load())
}

func TestDriver_NestedUnits(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml": "[package]\nname = \"nested\"\n",
		"src/lib.rs": "fn outer() {\n    let add = |a: i32| a + 1;\n    add(1);\n}\n",
	})
	driver := compiler.NewDriver(backend.NewSyntactic())
	sender, receiver := channel.New[model.Workspace]()
	report, err := driver.Run(context.Background(), root, sender)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Units)

	file := collect(receiver).Lookup("nested", "src/lib.rs")
	require.NotNil(t, file)
	var names []string
	for _, item := range file.Items {
		names = append(names, item.Name)
	}
	assert.ElementsMatch(t, []string{"outer", "{closure}"}, names)
}

func TestDriver_SyntaxErrorFailsRun(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml":    "[package]\nname = \"broken\"\n",
		"src/lib.rs":    libSource,
		"src/broken.rs": "fn broken( {\n",
	})
	driver := compiler.NewDriver(backend.NewSyntactic())
	report, err := driver.Run(context.Background(), root, nil)

	var failed *compiler.CompilationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Code)
	assert.Equal(t, []string{"src/broken.rs"}, failed.Files)
	assert.Equal(t, 1, compiler.ExitCode(err))
	assert.GreaterOrEqual(t, report.Results, 2, "parseable units still analyzed")
}

func TestDriver_BackendPanicIsolated(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml": "[package]\nname = \"panicky\"\n",
		"src/lib.rs": libSource,
	})
	faulty := backend.Func(func(ctx context.Context, unit *backend.Unit) (*model.Function, error) {
		if unit.Name == "make" {
			panic("backend exploded")
		}
		return backend.NewSyntactic().Analyze(ctx, unit)
	})
	driver := compiler.NewDriver(faulty)
	report, err := driver.Run(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Results)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error(), "backend exploded")
}

func TestDriver_Overlay(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml": "[package]\nname = \"overlay\"\n",
		"src/lib.rs": "fn on_disk() {}\n",
	})
	driver := compiler.NewDriver(backend.NewSyntactic())
	driver.Overlays().Set(filepath.Join(root, "src", "lib.rs"), []byte("fn in_editor() {}\n"))
	driver.Overlays().Set(filepath.Join(root, "src", "unsaved.rs"), []byte("fn unsaved() {}\n"))

	sender, receiver := channel.New[model.Workspace]()
	_, err := driver.Run(context.Background(), root, sender)
	require.NoError(t, err)
	workspace := collect(receiver)
	require.NotNil(t, workspace.Lookup("overlay", "src/lib.rs"))
	assert.Equal(t, "in_editor", workspace.Lookup("overlay", "src/lib.rs").Items[0].Name)
	require.NotNil(t, workspace.Lookup("overlay", "src/unsaved.rs"))

	driver.Overlays().Delete(filepath.Join(root, "src", "unsaved.rs"))
	assert.Empty(t, driver.Overlays().Under(filepath.Join(root, "src", "nope")))
}

type panicFS struct {
	afs.Service
}

func (panicFS) Walk(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	panic("walk exploded")
}

func TestRunInBackground(t *testing.T) {
	root := crate(t, map[string]string{
		"Cargo.toml": "[package]\nname = \"demo\"\n",
		"src/lib.rs": libSource,
	})

	t.Run("streams snapshots then outcome", func(t *testing.T) {
		driver := compiler.NewDriver(backend.NewSyntactic())
		receiver, done := driver.RunInBackground(context.Background(), root)
		count := 0
		for {
			_, err := receiver.Recv(context.Background())
			if errors.Is(err, channel.ErrClosed) {
				break
			}
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 2, count)
		outcome := <-done
		assert.NoError(t, outcome.Err)
		assert.Equal(t, 0, outcome.Code)
	})

	t.Run("driver panic", func(t *testing.T) {
		driver := compiler.NewDriver(backend.NewSyntactic(), compiler.WithFS(panicFS{Service: afs.New()}))
		_, done := driver.RunInBackground(context.Background(), root)
		outcome := <-done
		assert.ErrorIs(t, outcome.Err, compiler.ErrDriverPanic)
		assert.Equal(t, 1, outcome.Code)
	})
}
