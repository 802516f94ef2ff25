package soap

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	cacheDirPerm  = fs.FileMode(0o700)
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	cacheOpenTimeout = 5 * time.Second

	// cacheTTL is how long a cached WSDL lookup stays valid.
	cacheTTL = 24 * time.Hour
)

var wsdlBucket = []byte("wsdl")

type cacheEntry struct {
	Value     string `json:"value"`
	FetchedAt int64  `json:"fetched_at"`
}

// Cache is a small bbolt-backed cache for per-host WSDL metadata, so
// the gateway does not refetch service definitions on every process
// start.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(wsdlBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key if it is younger than the TTL.
func (c *Cache) Get(key string) (string, bool) {
	var (
		value string
		ok    bool
	)

	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(wsdlBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		var entry cacheEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return nil
		}

		if time.Since(time.Unix(entry.FetchedAt, 0)) > cacheTTL {
			return nil
		}

		value = entry.Value
		ok = true

		return nil
	})

	return value, ok
}

// Put stores a value for key with the current timestamp.
func (c *Cache) Put(key, value string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cacheEntry{Value: value, FetchedAt: time.Now().Unix()})
		if err != nil {
			return err
		}

		return tx.Bucket(wsdlBucket).Put([]byte(key), data)
	})
}
