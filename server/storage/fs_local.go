package storage

import (
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type localFSDriver struct{}

func (driver *localFSDriver) Open(root string, options url.Values) (FS, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	err = ensureDir(root)
	if err != nil {
		return nil, err
	}
	return &localFS{root: root}, nil
}

type localFS struct {
	root string
}

func (fs *localFS) Exists(name string) (bool, time.Time, error) {
	fullPath, err := fs.join(name)
	if err != nil {
		return false, time.Time{}, err
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return !fi.IsDir(), fi.ModTime(), nil
}

func (fs *localFS) ReadFile(name string) (file io.ReadSeekCloser, modtime time.Time, err error) {
	fullPath, err := fs.join(name)
	if err != nil {
		return
	}
	fi, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotFound
		}
		return
	}
	if fi.IsDir() {
		err = ErrNotFound
		return
	}
	modtime = fi.ModTime()
	file, err = os.Open(fullPath)
	return
}

func (fs *localFS) WriteFile(name string, content io.Reader) (written int64, err error) {
	fullPath, err := fs.join(name)
	if err != nil {
		return
	}
	err = ensureDir(filepath.Dir(fullPath))
	if err != nil {
		return
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return
	}
	defer file.Close()

	written, err = io.Copy(file, content)
	return
}

// join joins the name to the root, names escaping the root are rejected
func (fs *localFS) join(name string) (string, error) {
	fullPath := filepath.Join(fs.root, filepath.FromSlash(name))
	if fullPath != fs.root && !strings.HasPrefix(fullPath, fs.root+string(filepath.Separator)) {
		return "", errors.New("invalid path: " + name)
	}
	return fullPath, nil
}

func init() {
	RegisterFS("local", &localFSDriver{})
}
