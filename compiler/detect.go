package compiler

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/viant/afs"
)

// Manifest is the file marking a crate root
const Manifest = "Cargo.toml"

var packageName = regexp.MustCompile(`\[package\](?:.|\n)*?name\s*=\s*["']([^"']+)["']`)

// Crate describes a detected crate
type Crate struct {
	Name         string // package name from the manifest, or the root directory name
	Root         string // absolute path of the crate root
	RelativePath string // slash separated path from Root to the detected location
	HasManifest  bool
}

// Detect finds the crate containing path by searching up for a manifest.
// Without one, the directory of path is the root.
func Detect(ctx context.Context, path string) (*Crate, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	startDir := absPath
	if !info.IsDir() {
		startDir = filepath.Dir(absPath)
	}

	ret := &Crate{Root: startDir}
	if root := findCrateRoot(startDir); root != "" {
		ret.Root = root
		ret.HasManifest = true
	}
	relPath, err := filepath.Rel(ret.Root, absPath)
	if err != nil {
		relPath = filepath.Base(absPath)
	}
	ret.RelativePath = filepath.ToSlash(relPath)
	ret.Name = filepath.Base(ret.Root)
	if ret.HasManifest {
		ret.Name = crateName(ctx, filepath.Join(ret.Root, Manifest))
	}
	return ret, nil
}

// findCrateRoot searches up from startDir for a manifest, never above the home directory
func findCrateRoot(startDir string) string {
	homeDir := os.Getenv("HOME")
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, Manifest)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir || dir == homeDir {
			return ""
		}
		dir = parent
	}
}

func crateName(ctx context.Context, manifest string) string {
	fallback := filepath.Base(filepath.Dir(manifest))
	data, err := afs.New().DownloadWithURL(ctx, manifest)
	if err != nil {
		return fallback
	}
	matches := packageName.FindSubmatch(data)
	if len(matches) < 2 {
		return fallback
	}
	return string(matches[1])
}
