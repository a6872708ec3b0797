package storage

import (
	"errors"
	"net/url"
	"os"

	logx "github.com/ije/gox/log"
	"github.com/ije/gox/utils"
)

var log = &logx.Logger{}

var ErrNotFound = errors.New("record not found")

// SetLogger sets the logger of the package.
func SetLogger(logger *logx.Logger) {
	log = logger
}

func parseConfigUrl(configUrl string) (root string, options url.Values, err error) {
	root, query := utils.SplitByFirstByte(configUrl, '?')
	if query != "" {
		options, err = url.ParseQuery(query)
		if err != nil {
			return root, nil, err
		}
	}
	if options == nil {
		options = url.Values{}
	}
	return root, options, nil
}

func ensureDir(dir string) (err error) {
	_, err = os.Stat(dir)
	if err != nil && os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0755)
	}
	return
}
