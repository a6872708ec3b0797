package specifier

import (
	"path/filepath"
	"strings"

	"github.com/ije/gox/utils"
)

// IsBare reports whether the given specifier names a package rather than a path.
// Absolute paths, `.`, `..`, `./x`, `../x` and windows drive paths (`C:/x`, `C:\x`)
// are not bare; `.x`, `..x` and `@scope/pkg` are.
func IsBare(spec string) bool {
	if spec == "" {
		return false
	}
	switch spec[0] {
	case '/', '\\':
		return false
	case '.':
		if len(spec) == 1 {
			return false
		}
		c := spec[1]
		if c == '/' || c == '\\' {
			return false
		}
		if c == '.' {
			return !(len(spec) == 2 || spec[2] == '/' || spec[2] == '\\')
		}
		return true
	}
	if len(spec) >= 3 && isDriveLetter(spec[0]) && spec[1] == ':' && (spec[2] == '/' || spec[2] == '\\') {
		return false
	}
	return true
}

// ParsePathname splits the pathname into the package name and the subpath.
// An empty module means that the pathname is relative or absolute, an empty subpath
// that the pathname names the package itself.
//
//	@scope/name/lib/x.js -> (@scope/name, lib/x.js)
//	name/lib/x.js        -> (name, lib/x.js)
//	name                 -> (name, "")
//	./x.js               -> ("", ./x.js)
func ParsePathname(pathname string) (module string, subpath string) {
	if !IsBare(pathname) {
		return "", pathname
	}
	slash := strings.IndexByte(pathname, '/')
	if pathname[0] == '@' && slash > 0 {
		next := strings.IndexByte(pathname[slash+1:], '/')
		if next < 0 {
			return pathname, ""
		}
		slash += next + 1
	}
	if slash < 0 {
		return pathname, ""
	}
	if slash == len(pathname)-1 {
		return pathname[:slash], ""
	}
	return pathname[:slash], pathname[slash+1:]
}

// PackageName returns the package name of a bare specifier, ignoring any query.
func PackageName(spec string) string {
	spec, _ = utils.SplitByFirstByte(spec, '?')
	module, _ := ParsePathname(spec)
	return module
}

// BareNodeModule strips everything up to the last `node_modules` segment of the path.
// Paths outside of any `node_modules` directory are only normalized.
func BareNodeModule(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/node_modules/"); i >= 0 {
		return path[i+len("/node_modules/"):]
	}
	if strings.HasPrefix(path, "node_modules/") {
		return path[len("node_modules/"):]
	}
	return path
}

// ToPosix converts the path separators of the platform to `/`.
func ToPosix(path string) string {
	return filepath.ToSlash(path)
}

// IsURL reports whether the specifier carries a scheme, e.g. `http://` or `file://`.
// Single letter schemes are windows drives, not urls.
func IsURL(spec string) bool {
	i := strings.IndexByte(spec, ':')
	if i < 2 {
		return false
	}
	for j := 0; j < i; j++ {
		c := spec[j]
		if !(isDriveLetter(c) || (j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'))) {
			return false
		}
	}
	return true
}

// SplitQuery splits the url into the path and the query string (without `?`).
func SplitQuery(url string) (path string, query string) {
	return utils.SplitByFirstByte(url, '?')
}

// MergeQuery prepends the given parameter to the query keeping any existing one.
func MergeQuery(param string, query string) string {
	if query == "" {
		return param
	}
	return param + "&" + query
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
