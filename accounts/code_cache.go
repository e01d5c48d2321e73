package accounts

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

const codeCacheSize = 128

// CodeCache holds code blobs of foreign accounts referenced read-only by
// local transactions. Entries are keyed by account id and code commitment,
// so a changed commitment naturally misses the cache and triggers a refresh.
// The store keeps the durable copy; the LRU just avoids repeated reads.
type CodeCache struct {
	store *store.Store
	cache *lru.Cache
}

func NewCodeCache(s *store.Store) *CodeCache {
	cache, err := lru.New(codeCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size
		panic(err)
	}
	return &CodeCache{store: s, cache: cache}
}

func cacheKey(id types.AccountID, root types.Digest) string {
	return id.Hex() + "|" + root.Hex()
}

// Get returns the code blob for an account at a code commitment.
func (c *CodeCache) Get(id types.AccountID, root types.Digest) ([]byte, bool, error) {
	if code, ok := c.cache.Get(cacheKey(id, root)); ok {
		return code.([]byte), true, nil
	}
	code, exists, err := c.store.AccountCode(id, root)
	if err != nil || !exists {
		return nil, false, err
	}
	c.cache.Add(cacheKey(id, root), code)
	return code, true, nil
}

// Put stores a freshly fetched code blob.
func (c *CodeCache) Put(id types.AccountID, root types.Digest, code []byte) error {
	if err := c.store.SetAccountCode(id, root, code); err != nil {
		return err
	}
	c.cache.Add(cacheKey(id, root), code)
	return nil
}
