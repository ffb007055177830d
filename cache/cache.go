package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/wvhulle/ferrous-owl/fingerprint"
	"github.com/wvhulle/ferrous-owl/model"
)

const formatVersion = 1

// Cache stores analyzed functions keyed by fingerprint. Entries are never evicted: a key is
// derived from content, so an entry for changed code simply stops being looked up.
type Cache struct {
	mu      sync.Mutex
	entries map[string]map[string]*model.Function // source hash -> ir hash -> payload
	dir     string
	fs      afs.Service
	logger  *slog.Logger
}

type document struct {
	Version int                                   `json:"version"`
	Entries map[string]map[string]*model.Function `json:"entries"`
}

// Option configures a Cache
type Option func(*Cache)

// WithFS sets the storage service used for persistence
func WithFS(fs afs.Service) Option {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an empty cache persisting under dir; an empty dir disables persistence
func New(dir string, options ...Option) *Cache {
	c := &Cache{
		entries: map[string]map[string]*model.Function{},
		dir:     dir,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	if c.fs == nil {
		c.fs = afs.New()
	}
	return c
}

// Dir returns the persistence directory
func (c *Cache) Dir() string {
	return c.dir
}

// Insert records payload under fp; the cache keeps its own copy
func (c *Cache) Insert(fp fingerprint.Fingerprint, payload *model.Function) {
	if payload == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	byIR, ok := c.entries[fp.Source]
	if !ok {
		byIR = map[string]*model.Function{}
		c.entries[fp.Source] = byIR
	}
	byIR[fp.IR] = payload.Clone()
}

// Lookup returns a copy of the payload stored under fp
func (c *Cache) Lookup(fp fingerprint.Fingerprint) (*model.Function, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[fp.Source][fp.IR]
	if !ok {
		return nil, false
	}
	return payload.Clone(), true
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, byIR := range c.entries {
		count += len(byIR)
	}
	return count
}

// URL returns the location the cache named name persists to
func (c *Cache) URL(name string) string {
	return url.Join(c.dir, sanitize(name)+".json")
}

// Persist writes the whole cache to durable storage under name
func (c *Cache) Persist(ctx context.Context, name string) error {
	if c.dir == "" {
		return nil
	}
	c.mu.Lock()
	data, err := json.Marshal(&document{Version: formatVersion, Entries: c.entries})
	size := len(c.entries)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode cache %v: %w", name, err)
	}
	if err = c.fs.Create(ctx, c.dir, 0o755, true); err != nil {
		if ok, _ := c.fs.Exists(ctx, c.dir); !ok {
			return fmt.Errorf("failed to create cache dir %v: %w", c.dir, err)
		}
	}
	URL := c.URL(name)
	if err = c.fs.Upload(ctx, URL, 0o644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write cache %v: %w", URL, err)
	}
	c.logger.Debug("cache persisted", slog.String("url", URL), slog.Int("files", size))
	return nil
}

// Load rehydrates entries persisted under name; a missing cache file is not an error
func (c *Cache) Load(ctx context.Context, name string) error {
	if c.dir == "" {
		return nil
	}
	URL := c.URL(name)
	if ok, _ := c.fs.Exists(ctx, URL); !ok {
		return nil
	}
	data, err := c.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to read cache %v: %w", URL, err)
	}
	doc := &document{}
	if err = json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("failed to decode cache %v: %w", URL, err)
	}
	if doc.Version != formatVersion {
		c.logger.Warn("ignoring cache with unknown format", slog.String("url", URL), slog.Int("version", doc.Version))
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for sourceHash, byIR := range doc.Entries {
		target, ok := c.entries[sourceHash]
		if !ok {
			target = map[string]*model.Function{}
			c.entries[sourceHash] = target
		}
		for irHash, payload := range byIR {
			if payload != nil {
				target[irHash] = payload
			}
		}
	}
	c.logger.Debug("cache loaded", slog.String("url", URL), slog.Int("files", len(doc.Entries)))
	return nil
}

func sanitize(name string) string {
	if name == "" {
		return "workspace"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}
