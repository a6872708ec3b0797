package storage

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

type Cache interface {
	Has(key string) (bool, error)
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

type CacheDriver interface {
	Open(addr string, options url.Values) (cache Cache, err error)
}

var cacheDrivers sync.Map

// OpenCache opens a cache by url, e.g. `memory:default?maxCost=64mb`
func OpenCache(cacheUrl string) (cache Cache, err error) {
	if cacheUrl == "" {
		err = fmt.Errorf("invalid url")
		return
	}

	name, addr := utils.SplitByFirstByte(cacheUrl, ':')
	driver, ok := cacheDrivers.Load(name)
	if !ok {
		err = fmt.Errorf("unknown cache driver '%s'", name)
		return
	}

	path, options, err := parseConfigUrl(addr)
	if err != nil {
		return
	}

	cache, err = driver.(CacheDriver).Open(path, options)
	return
}

func RegisterCache(name string, driver CacheDriver) error {
	_, ok := cacheDrivers.Load(name)
	if ok {
		return fmt.Errorf("cache driver '%s' has been registered", name)
	}

	cacheDrivers.Store(name, driver)
	return nil
}
