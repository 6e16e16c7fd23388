package memcached

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/pkg/errors"

	"github.com/openshift/directory-gateway/pkg/cache"
)

// cacher is a cache.Cacher implemented on top of Memcached.
type cacher struct {
	client     *memcache.Client
	namespace  string
	expiration int32
}

// New creates a Cacher from a list of Memcached servers. Keys are placed under
// namespace so several deployments can share servers, and expire after
// expiration.
func New(namespace string, expiration, timeout time.Duration, servers ...string) cache.Cacher {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &cacher{
		client:     client,
		namespace:  namespace,
		expiration: int32(expiration / time.Second),
	}
}

// Get returns a value from Memcached.
func (c *cacher) Get(key string) ([]byte, bool, error) {
	i, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "memcached get")
	}

	return i.Value, true, nil
}

// Set sets a value in Memcached.
func (c *cacher) Set(key string, value []byte) error {
	err := c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      value,
		Expiration: c.expiration,
	})
	return errors.Wrap(err, "memcached set")
}

// key hashes the namespaced key to ensure that it is less than 250 bytes,
// as Memcached cannot handle longer keys.
func (c *cacher) key(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(c.namespace+"/"+key)))
}
