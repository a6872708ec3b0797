package server

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/glromeo/esnext-web-modules/internal/mime"
	"github.com/glromeo/esnext-web-modules/internal/npm"
	"github.com/glromeo/esnext-web-modules/internal/specifier"
)

// ResolveImport resolves the url imported by a browser module to the url it's served at.
// Bare specifiers are bundled on demand, the basedir is the root-relative directory of the
// importer and the query of the url is preserved.
func (wm *WebModules) ResolveImport(ctx context.Context, url string, basedir string) (string, error) {
	if specifier.IsURL(url) {
		return url, nil
	}

	pathname, query := specifier.SplitQuery(url)
	if resolved, ok := wm.importMap.Get(pathname); ok {
		return withQuery(resolved, query), nil
	}

	module, subpath := specifier.ParsePathname(pathname)
	if module != "" {
		var resolved string
		if !wm.importMap.Has(module) && (subpath == "" || !wm.isSquashed(module)) {
			task, err := wm.Bundle(ctx, module)
			if err != nil {
				return "", err
			}
			resolved, err = wm.queue.wait(ctx, task)
			if err != nil {
				return "", err
			}
		} else {
			resolved, _ = wm.importMap.Get(module)
		}
		if subpath == "" {
			return withQuery(resolved, query), nil
		}

		pkg, err := wm.resolver.ResolvePackage(module, wm.config.RootDir)
		if err != nil {
			return "", err
		}
		file, err := wm.inferExtension(pkg.Dir, subpath)
		if err != nil {
			return "", err
		}
		if !mime.IsModule(file) {
			return withQuery("/node_modules/"+module+"/"+file, specifier.MergeQuery("type=module", query)), nil
		}
		if resolved, ok := wm.importMap.Get(module + "/" + file); ok {
			return withQuery(resolved, query), nil
		}
		task, err := wm.Bundle(ctx, module+"/"+file)
		if err != nil {
			return "", err
		}
		resolved, err = wm.queue.wait(ctx, task)
		if err != nil {
			return "", err
		}
		return withQuery(resolved, query), nil
	}

	dir := wm.config.RootDir
	if basedir != "" && !strings.HasPrefix(pathname, "/") {
		dir = filepath.Join(wm.config.RootDir, filepath.FromSlash(basedir))
	}
	file, err := wm.inferExtension(dir, pathname)
	if err != nil {
		return "", err
	}
	if !mime.IsModule(file) {
		query = specifier.MergeQuery("type=module", query)
	}
	if basedir != "" && !strings.HasPrefix(file, "/") {
		file = path.Join(basedir, file)
	}
	return withQuery(file, query), nil
}

// inferExtension probes the file relative to the directory: as is, with any of the extensions,
// then as a directory index. Missing files get the `.js` extension, directories without an
// index are not found.
func (wm *WebModules) inferExtension(dir string, file string) (string, error) {
	filename := filepath.Join(dir, filepath.FromSlash(file))
	fi, err := os.Stat(filename)
	if err == nil && !fi.IsDir() {
		return file, nil
	}
	extensions := wm.resolver.Extensions()
	for _, ext := range extensions {
		if fi, e := os.Stat(filename + ext); e == nil && !fi.IsDir() {
			return file + ext, nil
		}
	}
	if err == nil {
		for _, ext := range extensions {
			if fi, e := os.Stat(filepath.Join(filename, "index"+ext)); e == nil && !fi.IsDir() {
				return strings.TrimSuffix(file, "/") + "/index" + ext, nil
			}
		}
		return "", &npm.ModuleNotFoundError{Name: specifier.ToPosix(filename)}
	}
	return file + ".js", nil
}

func withQuery(url string, query string) string {
	if query == "" {
		return url
	}
	return url + "?" + query
}
