package server

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/glromeo/esnext-web-modules/internal/specifier"
	"github.com/goccy/go-json"
	esbuild_config "github.com/ije/esbuild-internal/config"
	"github.com/ije/esbuild-internal/js_ast"
	"github.com/ije/esbuild-internal/js_lexer"
	"github.com/ije/esbuild-internal/js_parser"
	"github.com/ije/esbuild-internal/logger"
)

type proxyKind string

const (
	proxyNone proxyKind = ""
	proxyESM  proxyKind = "esm"
	proxyCJS  proxyKind = "cjs"
)

var (
	parserOnce    sync.Once
	parserOptions map[string]js_parser.Options
)

// initParser builds the parser option tables, once per process.
func initParser() {
	parserOnce.Do(func() {
		parserOptions = map[string]js_parser.Options{}
		for _, ext := range []string{".js", ".jsx", ".ts", ".tsx"} {
			parserOptions[ext] = js_parser.OptionsFromConfig(&esbuild_config.Options{
				JSX: esbuild_config.JSXOptions{
					Parse: ext == ".jsx" || ext == ".tsx",
				},
				TS: esbuild_config.TSOptions{
					Parse: ext == ".ts" || ext == ".tsx",
				},
			})
		}
	})
}

// parseJS parses the javascript or typescript source, the syntax is picked by the file extension.
func parseJS(filename string, contents string) (tree js_ast.AST, ok bool) {
	initParser()
	syntax := ".js"
	switch filepath.Ext(filename) {
	case ".jsx":
		syntax = ".jsx"
	case ".ts", ".mts", ".cts":
		syntax = ".ts"
	case ".tsx":
		syntax = ".tsx"
	}
	deferLog := logger.NewDeferLog(logger.DeferLogNoVerboseOrDebug, nil)
	return js_parser.Parse(deferLog, logger.Source{
		Index:          0,
		KeyPath:        logger.Path{Text: filename},
		PrettyPath:     filename,
		Contents:       contents,
		IdentifierName: "module",
	}, parserOptions[syntax])
}

type scanResult struct {
	Exports   []string `json:"exports"`
	Reexports []string `json:"reexports,omitempty"`
	Imports   []string `json:"imports,omitempty"`
}

// cachedScan memoizes the scan of a file until the file changes.
func (wm *WebModules) cachedScan(kind string, filename string, scan func(filename string) (*scanResult, error)) (*scanResult, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	key := kind + ":" + filename + ":" + strconv.FormatInt(fi.ModTime().UnixNano(), 10)
	if data, err := wm.cache.Get(key); err == nil {
		var ret scanResult
		if json.Unmarshal(data, &ret) == nil {
			return &ret, nil
		}
	}
	ret, err := scan(filename)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ret); err == nil {
		wm.cache.Set(key, data, 0)
	}
	return ret, nil
}

// proxyOf picks the interop proxy of an entry file: `.mjs` files are ES modules, `.cjs` files
// are CommonJS, otherwise the package manifest decides.
func proxyOf(entry string, isESM bool) proxyKind {
	switch filepath.Ext(entry) {
	case ".mjs":
		return proxyESM
	case ".cjs":
		return proxyCJS
	}
	if isESM {
		return proxyESM
	}
	return proxyCJS
}

// proxySource generates the source of the proxy module of the entry file.
func (wm *WebModules) proxySource(kind proxyKind, entry string) (string, []string, error) {
	if kind == proxyESM {
		return wm.esmProxy(entry)
	}
	return wm.cjsProxy(entry)
}

func writeExportBlock(buf *strings.Builder, names []string, file string) {
	buf.WriteString("export {")
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n  ")
		// arbitrary module namespace names, e.g. `export { x as "a-b" }`
		if !js_lexer.IsIdentifier(name) {
			name = strconv.Quote(name)
		}
		buf.WriteString(name)
	}
	buf.WriteString("\n} from ")
	buf.WriteString(strconv.Quote(specifier.ToPosix(file)))
	buf.WriteString(";\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
