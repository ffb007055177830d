package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
)

const sourceExt = ".rs"

// Sources lists the Rust files under root as sorted slash separated relative paths.
// Build output and hidden directories are skipped.
func Sources(ctx context.Context, fs afs.Service, root string) ([]string, error) {
	var ret []string
	rootName := filepath.Base(root)
	var visitor storage.OnVisit = func(ctx context.Context, baseURL, parent string, info os.FileInfo, reader io.Reader) (bool, error) {
		if info.IsDir() {
			if parent == "" && info.Name() == rootName {
				return true, nil
			}
			return !skipDir(info.Name()), nil
		}
		if strings.HasSuffix(info.Name(), sourceExt) {
			ret = append(ret, path.Join(filepath.ToSlash(parent), info.Name()))
		}
		return true, nil
	}
	if err := fs.Walk(ctx, root, visitor); err != nil {
		return nil, fmt.Errorf("failed to list sources of %v: %w", root, err)
	}
	sort.Strings(ret)
	return ret, nil
}

func skipDir(name string) bool {
	return name == "target" || strings.HasPrefix(name, ".")
}

// Overlays holds unsaved editor buffers keyed by absolute path; safe for concurrent use
type Overlays struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewOverlays creates an empty set
func NewOverlays() *Overlays {
	return &Overlays{files: map[string][]byte{}}
}

// Set records the buffer content of path
func (o *Overlays) Set(path string, content []byte) {
	o.mu.Lock()
	o.files[filepath.Clean(path)] = append([]byte(nil), content...)
	o.mu.Unlock()
}

// Delete forgets the buffer of path
func (o *Overlays) Delete(path string) {
	o.mu.Lock()
	delete(o.files, filepath.Clean(path))
	o.mu.Unlock()
}

// Get returns the buffer content of path
func (o *Overlays) Get(path string) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	content, ok := o.files[filepath.Clean(path)]
	return content, ok
}

// Under returns the overlaid paths below root as slash separated relative paths
func (o *Overlays) Under(root string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var ret []string
	for key := range o.files {
		rel, err := filepath.Rel(root, key)
		if err != nil || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, sourceExt) {
			continue
		}
		ret = append(ret, filepath.ToSlash(rel))
	}
	sort.Strings(ret)
	return ret
}
