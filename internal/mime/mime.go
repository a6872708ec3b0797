package mime

import (
	"path"
	"strings"
)

// content types of the files found in web_modules and node_modules
var contentTypes = map[string][]string{
	"application/javascript;": {"js", "mjs", "cjs"},
	"application/json;":       {"json", "map"},
	"application/wasm":        {"wasm"},
	"font/otf":                {"otf"},
	"font/ttf":                {"ttf"},
	"font/woff":               {"woff"},
	"font/woff2":              {"woff2"},
	"image/gif":               {"gif"},
	"image/jpeg":              {"jpg", "jpeg"},
	"image/png":               {"png"},
	"image/svg+xml;":          {"svg"},
	"image/webp":              {"webp"},
	"text/css":                {"css"},
	"text/html":               {"html", "htm"},
	"text/jsx":                {"jsx"},
	"text/plain":              {"txt"},
	"text/sass":               {"sass", "scss"},
	"text/less":               {"less"},
	"text/tsx":                {"tsx"},
	"text/typescript":         {"ts", "mts", "cts"},
}

var byExt = map[string]string{}

func init() {
	for contentType, exts := range contentTypes {
		if strings.HasSuffix(contentType, ";") || strings.HasPrefix(contentType, "text/") {
			contentType = strings.TrimSuffix(contentType, ";") + "; charset=utf-8"
		}
		for _, ext := range exts {
			byExt["."+ext] = contentType
		}
	}
}

// ContentType returns the content type of the file, files of unknown type are binary.
func ContentType(filename string) string {
	if contentType, ok := byExt[path.Ext(filename)]; ok {
		return contentType
	}
	return "application/octet-stream"
}

// IsModule reports whether the file is a javascript or typescript module.
func IsModule(filename string) bool {
	switch path.Ext(filename) {
	case ".js", ".mjs", ".jsx", ".ts", ".tsx", ".mts":
		return true
	}
	return false
}
