package storage

import (
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/ije/gox/utils"
)

type FSDriver interface {
	Open(root string, options url.Values) (fs FS, err error)
}

// FS stores the bundled web modules, names are slash separated and relative to the root.
type FS interface {
	Exists(name string) (found bool, modtime time.Time, err error)
	ReadFile(name string) (content io.ReadSeekCloser, modtime time.Time, err error)
	WriteFile(name string, r io.Reader) (written int64, err error)
}

var fsDrivers = sync.Map{}

// OpenFS opens a fs by url, e.g. `local:/path/to/web_modules` or `s3:bucket?region=us-east-1`
func OpenFS(fsUrl string) (FS, error) {
	name, addr := utils.SplitByFirstByte(fsUrl, ':')
	fs, ok := fsDrivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("unregistered fs '%s'", name)
	}
	root, options, err := parseConfigUrl(addr)
	if err != nil {
		return nil, err
	}
	return fs.(FSDriver).Open(root, options)
}

func RegisterFS(name string, driver FSDriver) error {
	_, ok := fsDrivers.Load(name)
	if ok {
		return fmt.Errorf("fs driver '%s' has been registered", name)
	}

	fsDrivers.Store(name, driver)
	return nil
}
