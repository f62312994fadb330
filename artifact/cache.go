package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/vmihailenco/msgpack/v5"
)

var cacheLog = commonlog.GetLogger("atom.cache")

// Current schema version - increment when cachePayload changes.
const cacheSchemaVersion uint16 = 1

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

// Cache keeps decoded units on disk keyed by the SHA-256 of their source
// bytes, so a JSON artifact is parsed once. A nil *Cache is valid and
// caches nothing. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

type cachePayload struct {
	Schema uint16 `msgpack:"schema"`
	Unit   *Unit  `msgpack:"unit"`
}

// Key is the cache key of some source bytes.
type Key [sha256.Size]byte

// KeyOf hashes source bytes.
func KeyOf(src []byte) Key { return sha256.Sum256(src) }

// OpenCache returns a cache rooted at dir, creating it if needed. An
// empty dir selects $XDG_CACHE_HOME/atom (or ~/.cache/atom).
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, "atom")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) pathFor(key Key) string {
	return filepath.Join(c.dir, "units", hex.EncodeToString(key[:])+".mp")
}

// Put stores u under key. The file is written to a temp name and renamed
// into place.
func (c *Cache) Put(key Key, u *Unit) (err error) {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = msgpack.NewEncoder(f).Encode(&cachePayload{Schema: cacheSchemaVersion, Unit: u}); err != nil {
		_ = f.Close()
		return fmt.Errorf("artifact: encode cache entry: %w", err)
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, p); err != nil {
		return err
	}
	cacheLog.Debugf("cached unit %s", hex.EncodeToString(key[:8]))
	return nil
}

// Get loads the unit stored under key. A missing entry or one written by
// another schema version reports false with no error.
func (c *Cache) Get(key Key) (*Unit, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var payload cachePayload
	if err := msgpack.NewDecoder(f).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("artifact: decode cache entry: %w", err)
	}
	if payload.Schema != cacheSchemaVersion || payload.Unit == nil {
		cacheLog.Debugf("ignoring cache entry with schema %d", payload.Schema)
		return nil, false, nil
	}
	return payload.Unit, true, nil
}

// DecodeCached decodes src, consulting the cache first and filling it on
// a miss. Cache failures are logged and never fail the decode.
func (c *Cache) DecodeCached(src []byte) (*Unit, error) {
	if c == nil || IsImage(src) {
		return Decode(src)
	}
	key := KeyOf(src)
	if u, ok, err := c.Get(key); err != nil {
		cacheLog.Warningf("cache read: %s", err)
	} else if ok {
		return u, nil
	}
	u, err := DecodeJSON(src)
	if err != nil {
		return nil, err
	}
	if err := c.Put(key, u); err != nil {
		cacheLog.Warningf("cache write: %s", err)
	}
	return u, nil
}
