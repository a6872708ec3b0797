package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/glromeo/esnext-web-modules/server/storage"
)

// BuildMeta describes a web module built by the web modules.
type BuildMeta struct {
	Pathname string        `json:"pathname"`
	URL      string        `json:"url"`
	Entry    string        `json:"entry"`
	Proxy    string        `json:"proxy,omitempty"`
	Exports  []string      `json:"exports,omitempty"`
	Inputs   []string      `json:"inputs"`
	Requires []string      `json:"requires,omitempty"`
	Duration time.Duration `json:"duration"`
	BuiltAt  time.Time     `json:"builtAt"`
}

// ErrNoMetaDB is returned reading build meta when the meta db is disabled.
var ErrNoMetaDB = errors.New("meta db is disabled")

func encodeBuildMeta(meta *BuildMeta) storage.Store {
	store := storage.Store{
		"url":      meta.URL,
		"entry":    meta.Entry,
		"duration": strconv.FormatInt(int64(meta.Duration), 10),
		"builtAt":  strconv.FormatInt(meta.BuiltAt.UnixMilli(), 10),
	}
	if meta.Proxy != "" {
		store["proxy"] = meta.Proxy
	}
	if len(meta.Exports) > 0 {
		store["exports"] = strings.Join(meta.Exports, ",")
	}
	if len(meta.Inputs) > 0 {
		store["inputs"] = strings.Join(meta.Inputs, "\n")
	}
	if len(meta.Requires) > 0 {
		store["requires"] = strings.Join(meta.Requires, "\n")
	}
	return store
}

func decodeBuildMeta(pathname string, store storage.Store) (*BuildMeta, error) {
	url, ok := store["url"]
	if !ok || !strings.HasPrefix(url, "/") {
		return nil, errors.New("invalid build meta")
	}
	meta := &BuildMeta{
		Pathname: pathname,
		URL:      url,
		Entry:    store["entry"],
		Proxy:    store["proxy"],
		Exports:  splitNonEmpty(store["exports"], ","),
		Inputs:   splitNonEmpty(store["inputs"], "\n"),
		Requires: splitNonEmpty(store["requires"], "\n"),
	}
	if v, err := strconv.ParseInt(store["duration"], 10, 64); err == nil {
		meta.Duration = time.Duration(v)
	}
	if v, err := strconv.ParseInt(store["builtAt"], 10, 64); err == nil {
		meta.BuiltAt = time.UnixMilli(v)
	}
	return meta, nil
}

func splitNonEmpty(s string, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

func (wm *WebModules) saveBuildMeta(meta *BuildMeta) error {
	if wm.db == nil {
		return nil
	}
	return wm.db.Put(meta.Pathname, "build", encodeBuildMeta(meta))
}

// BuildMeta returns the build meta of the pathname.
func (wm *WebModules) BuildMeta(pathname string) (*BuildMeta, error) {
	if wm.db == nil {
		return nil, ErrNoMetaDB
	}
	store, _, err := wm.db.Get(pathname)
	if err != nil {
		return nil, err
	}
	return decodeBuildMeta(pathname, store)
}

// ListBuildMeta returns the build meta of every web module built.
func (wm *WebModules) ListBuildMeta() ([]*BuildMeta, error) {
	if wm.db == nil {
		return nil, ErrNoMetaDB
	}
	list, err := wm.db.List("build")
	if err != nil {
		return nil, err
	}
	metas := make([]*BuildMeta, 0, len(list))
	for _, item := range list {
		meta, err := decodeBuildMeta(item.ID, item.Store)
		if err != nil {
			log.Warnf("build meta of '%s': %v", item.ID, err)
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}
