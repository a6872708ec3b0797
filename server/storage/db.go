package storage

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

// Store is a flat record of the meta db.
type Store map[string]string

type ListItem struct {
	ID      string
	Store   Store
	Modtime time.Time
}

type DBDriver interface {
	Open(path string, options url.Values) (db DB, err error)
}

type DB interface {
	Get(id string) (store Store, modtime time.Time, err error)
	Put(id string, category string, store Store) error
	List(category string) (list []ListItem, err error)
	Delete(id string) error
	Close() error
}

var dbDrivers sync.Map

// OpenDB opens a db by url, e.g. `postdb:/path/to/web_modules/.meta.db`
func OpenDB(dbUrl string) (DB, error) {
	name, addr := utils.SplitByFirstByte(dbUrl, ':')
	driver, ok := dbDrivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("unregistered db '%s'", name)
	}
	path, options, err := parseConfigUrl(addr)
	if err != nil {
		return nil, err
	}
	return driver.(DBDriver).Open(path, options)
}

func RegisterDB(name string, driver DBDriver) error {
	_, ok := dbDrivers.Load(name)
	if ok {
		return fmt.Errorf("db driver '%s' has been registered", name)
	}

	dbDrivers.Store(name, driver)
	return nil
}
