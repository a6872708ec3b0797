package server

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/glromeo/esnext-web-modules/internal/mime"
	"github.com/glromeo/esnext-web-modules/internal/npm"
	"github.com/glromeo/esnext-web-modules/server/storage"
	"github.com/goccy/go-json"
	"github.com/ije/gox/utils"
	"github.com/ije/rex"
)

// routes returns the handle of the resolve api.
func routes(wm *WebModules) rex.Handle {
	return func(ctx *rex.Context) interface{} {
		pathname := utils.CleanPath(ctx.R.URL.Path)

		// ban hidden files, e.g. the meta db
		if strings.Contains(pathname, "/.") {
			return rex.Status(404, "not found")
		}

		switch {
		case pathname == "/-/resolve":
			url := ctx.Form.Value("url")
			if url == "" {
				return rex.Err(400, "param `url` is required")
			}
			resolved, err := wm.ResolveImport(ctx.R.Context(), url, ctx.Form.Value("basedir"))
			if err != nil {
				if errors.Is(err, npm.ErrModuleNotFound) {
					return rex.Err(404, err.Error())
				}
				return rex.Err(500, err.Error())
			}
			ctx.SetHeader("Cache-Control", "private, no-store, no-cache, must-revalidate")
			ctx.SetHeader("Content-Type", "text/plain; charset=utf-8")
			return resolved

		case pathname == "/-/import-map.json":
			ctx.SetHeader("Cache-Control", "private, no-store, no-cache, must-revalidate")
			ctx.SetHeader("Content-Type", "application/importmap+json; charset=utf-8")
			return []byte(wm.importMap.FormatJSON(2))

		case strings.HasPrefix(pathname, "/-/builds/"):
			meta, err := wm.BuildMeta(strings.TrimPrefix(pathname, "/-/builds/"))
			if err != nil {
				if err == storage.ErrNotFound || err == ErrNoMetaDB {
					return rex.Err(404, "build not found")
				}
				return rex.Err(500, err.Error())
			}
			data, err := json.Marshal(meta)
			if err != nil {
				return rex.Err(500, err.Error())
			}
			ctx.SetHeader("Content-Type", "application/json; charset=utf-8")
			return data

		case strings.HasPrefix(pathname, WebModulesPrefix):
			name := strings.TrimPrefix(pathname, WebModulesPrefix)
			r, modtime, err := wm.fs.ReadFile(name)
			if err != nil {
				if err == storage.ErrNotFound {
					return rex.Status(404, "not found")
				}
				return rex.Err(500, err.Error())
			}
			switch path.Ext(name) {
			case ".js", ".map":
				ctx.SetHeader("Cache-Control", "public, max-age=31536000, immutable")
			}
			ctx.SetHeader("Content-Type", mime.ContentType(name))
			return rex.Content(name, modtime, r) // auto closed
		}

		return rex.Status(http.StatusNotFound, "not found")
	}
}
