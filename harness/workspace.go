package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/viant/afs"
)

const (
	// BaseDir is the directory under the system temp dir holding test workspaces
	BaseDir = "owl-tests"
	// SourceFile is the crate root written for each test case
	SourceFile = "src/lib.rs"
)

var crateNameInvalid = regexp.MustCompile(`[^A-Za-z0-9_]`)

// WorkspaceError reports a failed workspace directory operation
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("failed to %s workspace %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// Setup creates base/name with a minimal Cargo manifest and an empty src directory
func Setup(ctx context.Context, base, name string) (string, error) {
	fs := afs.New()
	dir := filepath.Join(base, name)
	if err := fs.Create(ctx, filepath.Join(dir, "src"), 0o755, true); err != nil {
		return "", &WorkspaceError{Op: "create", Path: dir, Err: err}
	}
	manifest := fmt.Sprintf("[package]\nname = %q\nversion = \"0.1.0\"\nedition = \"2021\"\n", CrateName(name))
	if err := fs.Upload(ctx, filepath.Join(dir, "Cargo.toml"), 0o644, strings.NewReader(manifest)); err != nil {
		return "", &WorkspaceError{Op: "write manifest of", Path: dir, Err: err}
	}
	return dir, nil
}

// Cleanup removes the workspace at path; an absent path is not an error
func Cleanup(ctx context.Context, path string) error {
	fs := afs.New()
	ok, err := fs.Exists(ctx, path)
	if err != nil {
		return &WorkspaceError{Op: "inspect", Path: path, Err: err}
	}
	if !ok {
		return nil
	}
	if err = fs.Delete(ctx, path); err != nil {
		return &WorkspaceError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Create sets up a workspace named after the test case, the process id and a run-local index
func Create(ctx context.Context, name string, index int) (string, error) {
	return Setup(ctx, filepath.Join(os.TempDir(), BaseDir), fmt.Sprintf("%s_%d_%d", CrateName(name), os.Getpid(), index))
}

// CrateName turns name into a valid crate identifier
func CrateName(name string) string {
	ret := crateNameInvalid.ReplaceAllString(name, "_")
	if ret == "" || (ret[0] >= '0' && ret[0] <= '9') {
		ret = "t_" + ret
	}
	return ret
}

// WriteSource writes the crate root of the workspace at dir and returns its path
func WriteSource(ctx context.Context, dir, code string) (string, error) {
	path := filepath.Join(dir, SourceFile)
	if err := afs.New().Upload(ctx, path, 0o644, strings.NewReader(code)); err != nil {
		return "", &WorkspaceError{Op: "write source of", Path: dir, Err: err}
	}
	return path, nil
}
