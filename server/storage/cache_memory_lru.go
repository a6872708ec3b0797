package storage

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

type mLRUCache struct {
	cache *ristretto.Cache
}

func (mc *mLRUCache) Has(key string) (bool, error) {
	_, ok := mc.cache.Get(key)
	return ok, nil
}

func (mc *mLRUCache) Get(key string) ([]byte, error) {
	item, ok := mc.cache.Get(key)
	if ok {
		return item.([]byte), nil
	}
	return nil, ErrNotFound
}

func (mc *mLRUCache) Set(key string, value []byte, ttl time.Duration) error {
	ok := mc.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	if ok {
		mc.cache.Wait()
	}
	return nil
}

func (mc *mLRUCache) Delete(key string) error {
	mc.cache.Del(key)
	mc.cache.Wait()
	return nil
}

type mcLRUDriver struct{}

// Open opens a memory cache, the `maxCost` option limits the total size of the values (default 64mb).
func (mcd *mcLRUDriver) Open(region string, options url.Values) (cache Cache, err error) {
	maxCost := int64(64 << 20)
	if s := options.Get("maxCost"); s != "" {
		maxCost, err = parseBytes(s)
		if err != nil {
			return
		}
	}
	impl, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &mLRUCache{cache: impl}, nil
}

func parseBytes(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	unit := int64(1)
	for suffix, size := range map[string]int64{"kb": 1 << 10, "mb": 1 << 20, "gb": 1 << 30} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			unit = size
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * unit, nil
}

func init() {
	RegisterCache("memory", &mcLRUDriver{})
}
