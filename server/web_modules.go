package server

import (
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/glromeo/esnext-web-modules/internal/importmap"
	"github.com/glromeo/esnext-web-modules/internal/npm"
	"github.com/glromeo/esnext-web-modules/internal/specifier"
	"github.com/glromeo/esnext-web-modules/internal/workspace"
	"github.com/glromeo/esnext-web-modules/server/storage"
	logx "github.com/ije/gox/log"
)

// VERSION is the version of the web modules server.
var VERSION = "v0.1.0"

// WebModulesPrefix is the url prefix of the bundled web modules.
const WebModulesPrefix = "/web_modules/"

var log = &logx.Logger{}

// SetLogger sets the logger of the server and of the packages it depends on.
func SetLogger(logger *logx.Logger) {
	log = logger
	importmap.SetLogger(logger)
	npm.SetLogger(logger)
	workspace.SetLogger(logger)
	storage.SetLogger(logger)
}

// WebModules owns the import map, the pending build table and the output storage of a
// root directory. Instances share nothing, each root directory needs its own.
type WebModules struct {
	config    *Config
	importMap *importmap.ImportMap
	resolver  *npm.Resolver
	fs        storage.FS
	mirror    storage.FS
	db        storage.DB
	cache     storage.Cache
	queue     *buildQueue
}

// New creates the web modules of the configured root directory: the persisted import map
// is loaded and the workspace packages are merged over it.
func New(config *Config) (wm *WebModules, err error) {
	outDir := config.OutDir()
	if config.Clean {
		err = os.RemoveAll(outDir)
		if err != nil {
			return
		}
		log.Info("cleaned web_modules directory")
	}

	fs, err := storage.OpenFS("local:" + outDir)
	if err != nil {
		return
	}

	var mirror storage.FS
	if config.Mirror != "" {
		mirror, err = storage.OpenFS(config.Mirror)
		if err != nil {
			return
		}
		log.Infof("mirroring web_modules to %s", config.Mirror)
	}

	var db storage.DB
	if config.MetaDB != "" && config.MetaDB != "none" {
		db, err = storage.OpenDB(config.MetaDB)
		if err != nil {
			return
		}
	}

	cache, err := storage.OpenCache("memory:default")
	if err != nil {
		return
	}

	resolver, err := npm.NewResolver(config.RootDir, config.ModuleDirectories, config.Extensions)
	if err != nil {
		return
	}

	im := importmap.Load(outDir, config.RootDir)
	ws, err := workspace.Scan(config.RootDir)
	if err != nil {
		log.Warnf("workspaces: %v", err)
		err = nil
	} else {
		im = importmap.Merge(im, ws)
	}

	wm = &WebModules{
		config:    config,
		importMap: im,
		resolver:  resolver,
		fs:        fs,
		mirror:    mirror,
		db:        db,
		cache:     cache,
		queue:     newBuildQueue(int(config.BuildConcurrency)),
	}
	return
}

// Config returns the config of the web modules.
func (wm *WebModules) Config() *Config {
	return wm.config
}

// ImportMap returns the import map of the web modules.
func (wm *WebModules) ImportMap() *importmap.ImportMap {
	return wm.importMap
}

// Close closes the meta db.
func (wm *WebModules) Close() error {
	if wm.db != nil {
		return wm.db.Close()
	}
	return nil
}

// isSquashed reports whether the pathname matches one of the squash globs,
// `pkg/**` matches `pkg` too.
func (wm *WebModules) isSquashed(pathname string) bool {
	for _, pattern := range wm.config.Squash {
		if strings.HasSuffix(pattern, "/**") && pathname == strings.TrimSuffix(pattern, "/**") {
			return true
		}
		if ok, err := doublestar.Match(pattern, pathname); err == nil && ok {
			return true
		}
	}
	return false
}

// isExternal reports whether the specifier is listed in the external option.
func (wm *WebModules) isExternal(spec string) bool {
	for _, pattern := range wm.config.External {
		if spec == pattern || specifier.PackageName(spec) == pattern {
			return true
		}
		if ok, err := doublestar.Match(pattern, spec); err == nil && ok {
			return true
		}
	}
	return false
}

// outputName returns the name of the bundle of the pathname relative to the web_modules directory,
// whole packages are bundled in `<module>.js`.
func outputName(pathname string) string {
	module, subpath := specifier.ParsePathname(pathname)
	if subpath == "" {
		return module + ".js"
	}
	switch path.Ext(subpath) {
	case ".js", ".mjs":
		return pathname
	}
	return pathname + ".js"
}

// outputURL returns the url of the bundle of the pathname.
func outputURL(pathname string) string {
	return WebModulesPrefix + outputName(pathname)
}
