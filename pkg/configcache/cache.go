// Package configcache persists remotely fetched gateway configuration on disk.
//
// Entries are keyed by the SHA-256 of the source URL alone. Request headers
// and credentials never take part in the key or the file contents, so the
// cache directory can be shared between processes and users without leaking
// secrets. Entries are immutable once written; concurrent writers to the same
// key race benignly and the last rename wins.
package configcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"github.com/vikashloomba/mcp-progressive-gateway/pkg/mcperr"
)

// DefaultTTL is applied when Options.TTL is not positive.
const DefaultTTL = time.Hour

const entrySuffix = ".json"

// Entry is the on-disk representation of a cached document.
type Entry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	// SourceURL is kept for diagnostics only and never feeds the key.
	SourceURL string `json:"sourceUrl"`
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats summarizes the cache directory.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Options configure a Cache.
type Options struct {
	// Dir holds the cache files. Defaults to DefaultDir().
	Dir string
	// TTL is the lifetime of new entries. Defaults to DefaultTTL.
	TTL time.Duration
	// DisableRead turns Get into a permanent miss.
	DisableRead bool
	// DisableWrite turns Set into a no-op.
	DisableWrite bool
	Logger       *slog.Logger
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Cache is a TTL-bounded, content-addressed file cache. It is safe for
// concurrent use; all coordination happens through the filesystem.
type Cache struct {
	dir          string
	ttl          time.Duration
	readEnabled  bool
	writeEnabled bool
	logger       *slog.Logger
	now          func() time.Time
}

// DefaultDir returns the per-user cache directory for gateway configuration.
func DefaultDir() string {
	return filepath.Join(xdg.CacheHome, "mcpgw", "remote-config")
}

// New builds a Cache. Call Init before first use to create the directory.
func New(opts Options) *Cache {
	c := &Cache{
		dir:          opts.Dir,
		ttl:          opts.TTL,
		readEnabled:  !opts.DisableRead,
		writeEnabled: !opts.DisableWrite,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if c.dir == "" {
		c.dir = DefaultDir()
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Init creates the cache directory.
func (c *Cache) Init() error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return mcperr.Wrap(mcperr.KindCacheIO, err, "create cache dir %s", c.dir)
	}
	return nil
}

// Close drops expired entries. The cache holds no other resources.
func (c *Cache) Close() error {
	if !c.writeEnabled {
		return nil
	}
	_, err := c.CleanExpired()
	return err
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// ReadEnabled reports whether Get consults the disk.
func (c *Cache) ReadEnabled() bool { return c.readEnabled }

// WriteEnabled reports whether Set persists entries.
func (c *Cache) WriteEnabled() bool { return c.writeEnabled }

// Key derives the cache key for a source URL.
func Key(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+entrySuffix)
}

// Get returns the cached payload for sourceURL. Unreadable, corrupt, and
// expired entries are all reported as absent; corrupt and expired files are
// removed on a best-effort basis.
func (c *Cache) Get(sourceURL string) ([]byte, bool) {
	if !c.readEnabled {
		return nil, false
	}
	key := Key(sourceURL)
	p := c.path(key)
	raw, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("config cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Debug("config cache entry corrupt", "key", key, "error", err)
		c.removeQuietly(p)
		return nil, false
	}
	if entry.Expired(c.now()) {
		c.removeQuietly(p)
		return nil, false
	}
	return []byte(entry.Data), true
}

// Set stores data for sourceURL. data must be valid JSON.
func (c *Cache) Set(sourceURL string, data []byte) error {
	if !c.writeEnabled {
		return nil
	}
	if !json.Valid(data) {
		return mcperr.New(mcperr.KindCacheIO, "refusing to cache non-JSON payload for key %s", Key(sourceURL))
	}
	now := c.now()
	entry := Entry{
		Key:       Key(sourceURL),
		Data:      json.RawMessage(data),
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		SourceURL: RedactURL(sourceURL),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return mcperr.Wrap(mcperr.KindCacheIO, err, "encode cache entry")
	}
	if err := c.Init(); err != nil {
		return err
	}
	if err := writeFileAtomic(c.dir, c.path(entry.Key), encoded); err != nil {
		return mcperr.Wrap(mcperr.KindCacheIO, err, "write cache entry %s", entry.Key)
	}
	return nil
}

// Clear removes the entry for sourceURL. A missing entry is not an error.
func (c *Cache) Clear(sourceURL string) error {
	err := os.Remove(c.path(Key(sourceURL)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mcperr.Wrap(mcperr.KindCacheIO, err, "remove cache entry")
	}
	return nil
}

// ClearAll removes every entry.
func (c *Cache) ClearAll() error {
	files, err := c.entries()
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range files {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return mcperr.Wrap(mcperr.KindCacheIO, errors.Join(errs...), "clear cache")
	}
	return nil
}

// CleanExpired removes expired and corrupt entries and returns how many were
// deleted.
func (c *Cache) CleanExpired() (int, error) {
	files, err := c.entries()
	if err != nil {
		return 0, err
	}
	now := c.now()
	removed := 0
	for _, name := range files {
		p := filepath.Join(c.dir, name)
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err == nil && !entry.Expired(now) {
			continue
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Stats counts entries and their total size on disk.
func (c *Cache) Stats() (Stats, error) {
	files, err := c.entries()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, name := range files {
		info, err := os.Stat(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		st.Count++
		st.TotalBytes += info.Size()
	}
	return st, nil
}

func (c *Cache) entries() ([]string, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, mcperr.Wrap(mcperr.KindCacheIO, err, "list cache dir %s", c.dir)
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		names = append(names, de.Name())
	}
	return names, nil
}

func (c *Cache) removeQuietly(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("config cache cleanup failed", "path", p, "error", err)
	}
}

func writeFileAtomic(dir, dst string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// redactURL strips userinfo and query strings, which commonly carry tokens,
// before the URL is written next to the cached data.
// RedactURL strips credentials, query and fragment from raw so that it can be
// logged or stored.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
