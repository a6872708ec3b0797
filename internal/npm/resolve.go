package npm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/glromeo/esnext-web-modules/internal/specifier"
	"github.com/goccy/go-json"
	logx "github.com/ije/gox/log"
)

var log = &logx.Logger{}

// SetLogger sets the logger of the package.
func SetLogger(logger *logx.Logger) {
	log = logger
}

// ErrModuleNotFound is matched by errors.Is for every ModuleNotFoundError.
var ErrModuleNotFound = errors.New("module not found")

// ModuleNotFoundError is returned when a package manifest or a file can't be found on disk.
type ModuleNotFoundError struct {
	Name    string
	Basedir string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("Cannot find module '%s'", e.Name)
}

func (e *ModuleNotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}

// DefaultExtensions is the list of extensions probed for extension-less imports.
var DefaultExtensions = []string{".js", ".mjs", ".jsx", ".ts", ".tsx", ".json"}

// Package is an installed package.
type Package struct {
	*PackageJSON
	Dir string
}

// EntryFile resolves the absolute path of the package entry.
func (r *Resolver) EntryFile(pkg *Package) (string, error) {
	return r.ResolveFile(filepath.Join(pkg.Dir, filepath.FromSlash(pkg.Entry())))
}

type manifestCacheItem struct {
	pkg     *PackageJSON
	modtime time.Time
}

// Resolver resolves packages and files the way node.js does.
type Resolver struct {
	rootDir    string
	paths      []string
	extensions []string
	cache      *ristretto.Cache
}

// NewResolver creates a resolver for the root directory. Module directories are searched
// after the `node_modules` directories found walking up from the importing directory.
func NewResolver(rootDir string, moduleDirectories []string, extensions []string) (*Resolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	paths := make([]string, 0, len(moduleDirectories))
	for _, dir := range moduleDirectories {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(rootDir, dir)
		}
		paths = append(paths, dir)
	}
	return &Resolver{
		rootDir:    rootDir,
		paths:      paths,
		extensions: extensions,
		cache:      cache,
	}, nil
}

// Extensions returns the extensions probed for extension-less imports.
func (r *Resolver) Extensions() []string {
	return r.extensions
}

// ResolvePackage finds the package.json of the named package starting from basedir.
func (r *Resolver) ResolvePackage(name string, basedir string) (*Package, error) {
	if basedir == "" {
		basedir = r.rootDir
	}
	for _, dir := range r.lookupDirs(basedir) {
		pkgDir := filepath.Join(dir, filepath.FromSlash(name))
		pkg, err := r.ReadManifest(filepath.Join(pkgDir, "package.json"))
		if err == nil {
			log.Debugf("resolved package '%s' in %s", name, pkgDir)
			return &Package{PackageJSON: pkg, Dir: pkgDir}, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid package.json of '%s': %w", name, err)
		}
	}
	return nil, &ModuleNotFoundError{Name: name + "/package.json", Basedir: basedir}
}

// ReadManifest reads and normalizes a package.json, the result is cached until the file changes.
func (r *Resolver) ReadManifest(filename string) (*PackageJSON, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if v, ok := r.cache.Get(filename); ok {
		item := v.(*manifestCacheItem)
		if item.modtime.Equal(fi.ModTime()) {
			return item.pkg, nil
		}
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var raw PackageJSONRaw
	if err = json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	pkg := raw.ToPackageJSON()
	r.cache.Set(filename, &manifestCacheItem{pkg: pkg, modtime: fi.ModTime()}, 1)
	return pkg, nil
}

// Resolve resolves a bare or a relative specifier imported from basedir to an absolute file path.
func (r *Resolver) Resolve(spec string, basedir string) (string, error) {
	if basedir == "" {
		basedir = r.rootDir
	}
	if filepath.IsAbs(spec) {
		return r.ResolveFile(spec)
	}
	if !specifier.IsBare(spec) {
		return r.ResolveFile(filepath.Join(basedir, filepath.FromSlash(spec)))
	}
	name, subpath := specifier.ParsePathname(spec)
	pkg, err := r.ResolvePackage(name, basedir)
	if err != nil {
		return "", err
	}
	if subpath == "" {
		return r.EntryFile(pkg)
	}
	return r.ResolveFile(filepath.Join(pkg.Dir, filepath.FromSlash(subpath)))
}

// ResolveFile probes the file, the file with any of the extensions and the directory index.
// A directory without an index file is not found.
func (r *Resolver) ResolveFile(file string) (string, error) {
	fi, err := os.Stat(file)
	if err == nil && !fi.IsDir() {
		return file, nil
	}
	for _, ext := range r.extensions {
		if fi, err := os.Stat(file + ext); err == nil && !fi.IsDir() {
			return file + ext, nil
		}
	}
	if err == nil && fi.IsDir() {
		if pkg, e := r.ReadManifest(filepath.Join(file, "package.json")); e == nil && pkg.Entry() != "index.js" {
			entry := filepath.Join(file, filepath.FromSlash(pkg.Entry()))
			if entry != file {
				if entry, e = r.ResolveFile(entry); e == nil {
					return entry, nil
				}
			}
		}
		for _, ext := range r.extensions {
			index := filepath.Join(file, "index"+ext)
			if fi, err := os.Stat(index); err == nil && !fi.IsDir() {
				return index, nil
			}
		}
	}
	return "", &ModuleNotFoundError{Name: filepath.ToSlash(file)}
}

func (r *Resolver) lookupDirs(basedir string) []string {
	dirs := []string{}
	dir := basedir
	for {
		if filepath.Base(dir) != "node_modules" {
			dirs = append(dirs, filepath.Join(dir, "node_modules"))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return append(dirs, r.paths...)
}
