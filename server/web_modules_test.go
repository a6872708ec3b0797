package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glromeo/esnext-web-modules/internal/importmap"
	"github.com/glromeo/esnext-web-modules/internal/npm"
	"github.com/goccy/go-json"
)

var fixturePackages = map[string]string{
	"node_modules/alpha/package.json": `{"name": "alpha", "version": "1.0.0", "module": "index.js"}`,
	"node_modules/alpha/index.js":     "export const a = 1;\nexport default \"alpha\";\n",
	"node_modules/alpha/extra.js":     "import alpha from \"alpha\";\nexport const extra = alpha + \"!\";\n",
	"node_modules/alpha/style.css":    ".alpha { color: red; }\n",

	"node_modules/beta/package.json":                 `{"name": "beta", "version": "2.0.0", "main": "index.js"}`,
	"node_modules/beta/index.js":                     "if (process.env.NODE_ENV === \"production\") {\n  module.exports = require(\"./cjs/beta.production.js\");\n} else {\n  module.exports = require(\"./cjs/beta.development.js\");\n}\n",
	"node_modules/beta/cjs/beta.development.js":      "exports.useBeta = function () { return \"dev\"; };\nexports.version = \"dev\";\n",
	"node_modules/beta/cjs/beta.production.js":       "exports.useBeta = function () { return \"prod\"; };\nexports.prodOnly = true;\n",
	"node_modules/gamma/package.json":                `{"name": "gamma", "module": "index.mjs"}`,
	"node_modules/gamma/index.mjs":                   "import alpha from \"alpha\";\nimport { useBeta } from \"beta\";\nexport const gamma = alpha + useBeta();\n",
	"node_modules/ping/package.json":                 `{"name": "ping", "module": "index.js"}`,
	"node_modules/ping/index.js":                     "import { pong } from \"pong\";\nexport const ping = () => pong;\n",
	"node_modules/pong/package.json":                 `{"name": "pong", "module": "index.js"}`,
	"node_modules/pong/index.js":                     "import { ping } from \"ping\";\nexport const pong = () => ping;\n",
	"node_modules/@babel/runtime/package.json":       `{"name": "@babel/runtime", "version": "7.0.0"}`,
	"node_modules/@babel/runtime/helpers/extends.js": "export default function _extends() { return Object.assign.apply(null, arguments); }\n",
	"node_modules/delta/package.json":                `{"name": "delta", "module": "index.js"}`,
	"node_modules/delta/index.js":                    "import _extends from \"@babel/runtime/helpers/extends\";\nexport const delta = _extends({}, { d: 1 });\n",

	"src/app/epsilon.js":  "export default 1;\n",
	"src/app/styles.css":  "body { margin: 0; }\n",
	"src/dir/index.ts":    "export default 1;\n",
	"src/empty/README.md": "# empty\n",
}

func writeFiles(t *testing.T, rootDir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		filename := filepath.Join(rootDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestWebModules(t *testing.T, files map[string]string, configure func(config *Config)) *WebModules {
	t.Helper()
	rootDir := t.TempDir()
	writeFiles(t, rootDir, files)
	config, err := DefaultConfig(rootDir)
	if err != nil {
		t.Fatal(err)
	}
	config.NodeEnv = "development"
	config.DisableRuntimeExports = true
	config.BuildConcurrency = 2
	if configure != nil {
		configure(config)
	}
	wm, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		wm.Close()
	})
	return wm
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func readOutput(t *testing.T, wm *WebModules, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(wm.config.OutDir(), filepath.FromSlash(name)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestOutputName(t *testing.T) {
	for pathname, name := range map[string]string{
		"react":                          "react.js",
		"tippy.js":                       "tippy.js.js",
		"@scope/pkg":                     "@scope/pkg.js",
		"lodash/fp.js":                   "lodash/fp.js",
		"lodash/fp":                      "lodash/fp.js",
		"@babel/runtime/helpers/extends": "@babel/runtime/helpers/extends.js",
		"pkg/dist/index.mjs":             "pkg/dist/index.mjs",
		"pkg/src/index.ts":               "pkg/src/index.ts.js",
	} {
		if ret := outputName(pathname); ret != name {
			t.Fatalf("outputName(%s) should be '%s', got '%s'", pathname, name, ret)
		}
	}
	if outputURL("react") != "/web_modules/react.js" {
		t.Fatalf("invalid output url '%s'", outputURL("react"))
	}
}

func TestIsSquashed(t *testing.T) {
	wm := &WebModules{config: &Config{Squash: []string{"@babel/runtime/**", "tslib"}}}
	for pathname, ok := range map[string]bool{
		"@babel/runtime":                     true,
		"@babel/runtime/helpers/extends":     true,
		"@babel/runtime/helpers/esm/extends": true,
		"@babel/core":                        false,
		"tslib":                              true,
		"tslib/tslib.es6.js":                 false,
		"react":                              false,
	} {
		if wm.isSquashed(pathname) != ok {
			t.Fatalf("isSquashed(%s) should be %v", pathname, ok)
		}
	}
}

func TestIsExternal(t *testing.T) {
	wm := &WebModules{config: &Config{External: []string{"react", "@scope/*"}}}
	for spec, ok := range map[string]bool{
		"react":             true,
		"react/jsx-runtime": true,
		"@scope/pkg":        true,
		"react-dom":         false,
	} {
		if wm.isExternal(spec) != ok {
			t.Fatalf("isExternal(%s) should be %v", spec, ok)
		}
	}
}

func TestBundleESM(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	ctx := testContext(t)

	url, err := wm.ResolveImport(ctx, "alpha", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/web_modules/alpha.js" {
		t.Fatalf("invalid url '%s'", url)
	}
	code := readOutput(t, wm, "alpha.js")
	if !strings.Contains(code, "export") || !strings.Contains(code, "alpha") {
		t.Fatalf("invalid bundle:\n%s", code)
	}
	if _, err := os.Stat(filepath.Join(wm.config.OutDir(), "alpha.js.map")); err != nil {
		t.Fatalf("missing source map: %v", err)
	}
	if ret, _ := wm.importMap.Get("alpha/index.js"); ret != "/web_modules/alpha.js" {
		t.Fatalf("bundled files should be mapped to the bundle, got '%s'", ret)
	}

	// the import map is persisted and reloaded
	persisted := importmap.Load(wm.config.OutDir(), wm.config.RootDir)
	if ret, _ := persisted.Get("alpha"); ret != "/web_modules/alpha.js" {
		t.Fatalf("alpha should be persisted, got '%s'", ret)
	}

	// resolving again is idempotent and doesn't bundle
	again, err := wm.ResolveImport(ctx, "alpha?dev", "")
	if err != nil {
		t.Fatal(err)
	}
	if again != "/web_modules/alpha.js?dev" {
		t.Fatalf("invalid url '%s'", again)
	}
	if wm.queue.pending() != 0 {
		t.Fatal("no build should be pending")
	}

	meta, err := wm.BuildMeta("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if meta.URL != "/web_modules/alpha.js" || meta.Proxy != "esm" || strings.Join(meta.Exports, ",") != "a,default" {
		t.Fatalf("invalid build meta %+v", meta)
	}
}

func TestBundleCJS(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	ctx := testContext(t)

	task, err := wm.Bundle(ctx, "beta")
	if err != nil {
		t.Fatal(err)
	}
	if err = task.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	meta := task.Meta()
	if meta == nil || meta.Proxy != "cjs" {
		t.Fatalf("invalid build meta %+v", meta)
	}
	if strings.Join(meta.Exports, ",") != "useBeta,version" {
		t.Fatalf("invalid exports %v", meta.Exports)
	}
	code := readOutput(t, wm, "beta.js")
	if strings.Contains(code, "prodOnly") {
		t.Fatalf("the production branch should be dropped:\n%s", code)
	}
	for _, name := range []string{"useBeta", "version", "default"} {
		if !strings.Contains(code, name) {
			t.Fatalf("missing export '%s':\n%s", name, code)
		}
	}
}

// decodeMappings returns the original [source, line] of the first segment of every generated line.
func decodeMappings(t *testing.T, mappings string) [][2]int {
	t.Helper()
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	lines := [][2]int{}
	source, line := 0, 0
	for _, group := range strings.Split(mappings, ";") {
		first := [2]int{-1, -1}
		for _, segment := range strings.Split(group, ",") {
			if segment == "" {
				continue
			}
			fields := []int{}
			value, shift := 0, 0
			for _, c := range segment {
				digit := strings.IndexRune(alphabet, c)
				if digit < 0 {
					t.Fatalf("invalid mappings %q", mappings)
				}
				value += (digit & 31) << shift
				if digit&32 != 0 {
					shift += 5
					continue
				}
				if value&1 != 0 {
					value = -(value >> 1)
				} else {
					value >>= 1
				}
				fields = append(fields, value)
				value, shift = 0, 0
			}
			if len(fields) >= 4 {
				source += fields[1]
				line += fields[2]
				if first[0] < 0 {
					first = [2]int{source, line}
				}
			}
		}
		lines = append(lines, first)
	}
	return lines
}

func TestBundleRequireShimSourceMap(t *testing.T) {
	files := map[string]string{
		"node_modules/zeta/package.json": `{"name": "zeta", "main": "index.js"}`,
		"node_modules/zeta/index.js":     "var alpha = require(\"alpha\");\nexports.zeta = function marker() { return alpha; };\n",
	}
	for name, content := range fixturePackages {
		files[name] = content
	}
	wm := newTestWebModules(t, files, nil)

	if _, err := wm.ResolveImport(testContext(t), "zeta", ""); err != nil {
		t.Fatal(err)
	}
	code := readOutput(t, wm, "zeta.js")
	if !strings.HasPrefix(code, "import * as __req0$ from \"/web_modules/alpha.js\";") {
		t.Fatalf("the require shim should import alpha:\n%s", code)
	}
	generated := -1
	for i, line := range strings.Split(code, "\n") {
		if strings.Contains(line, "function marker()") {
			generated = i
			break
		}
	}
	if generated < 0 {
		t.Fatalf("missing marker function:\n%s", code)
	}

	var sm sourceMap
	if err := json.Unmarshal([]byte(readOutput(t, wm, "zeta.js.map")), &sm); err != nil {
		t.Fatal(err)
	}
	lines := decodeMappings(t, sm.Mappings)
	if generated >= len(lines) || lines[generated][0] < 0 {
		t.Fatalf("line %d of zeta.js has no mapping", generated+1)
	}
	source, line := lines[generated][0], lines[generated][1]
	if !strings.HasSuffix(sm.Sources[source], "zeta/index.js") || line != 1 {
		t.Fatalf("line %d of zeta.js should map to zeta/index.js:2, got %s:%d", generated+1, sm.Sources[source], line+1)
	}
}

func TestBundleCJSProduction(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, func(config *Config) {
		config.NodeEnv = "production"
		config.Minify = true
		config.SourceMap = false
	})
	exports, err := wm.scanCJSExports(filepath.Join(wm.config.RootDir, "node_modules", "beta", "index.js"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(exports, ",") != "useBeta,prodOnly" {
		t.Fatalf("invalid exports %v", exports)
	}
	url, err := wm.ResolveImport(testContext(t), "beta", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(wm.config.OutDir(), "beta.js.map")); err == nil {
		t.Fatalf("minified bundles have no source map, %s", url)
	}
}

func TestBundleRewritesImports(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	ctx := testContext(t)

	url, err := wm.ResolveImport(ctx, "gamma", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/web_modules/gamma.js" {
		t.Fatalf("invalid url '%s'", url)
	}
	code := readOutput(t, wm, "gamma.js")
	if !strings.Contains(code, `"/web_modules/alpha.js"`) || !strings.Contains(code, `"/web_modules/beta.js"`) {
		t.Fatalf("dependencies should be imported from their bundles:\n%s", code)
	}
	if strings.Contains(code, `"alpha"`) {
		t.Fatalf("bare specifiers should be rewritten:\n%s", code)
	}
	for _, name := range []string{"alpha", "beta"} {
		if !wm.importMap.Has(name) {
			t.Fatalf("'%s' should be bundled", name)
		}
	}
}

func TestBundleSubpath(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	ctx := testContext(t)

	url, err := wm.ResolveImport(ctx, "alpha/extra", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/web_modules/alpha/extra.js" {
		t.Fatalf("invalid url '%s'", url)
	}
	if ret, _ := wm.importMap.Get("alpha"); ret != "/web_modules/alpha.js" {
		t.Fatalf("the package should be bundled before its subpath, got '%s'", ret)
	}
	code := readOutput(t, wm, "alpha/extra.js")
	if !strings.Contains(code, `"/web_modules/alpha.js"`) {
		t.Fatalf("the subpath should import the package bundle:\n%s", code)
	}

	asset, err := wm.ResolveImport(ctx, "alpha/style.css?inline", "")
	if err != nil {
		t.Fatal(err)
	}
	if asset != "/node_modules/alpha/style.css?type=module&inline" {
		t.Fatalf("invalid asset url '%s'", asset)
	}
}

func TestBundleSubpathSharedFile(t *testing.T) {
	files := map[string]string{
		"node_modules/kappa/package.json": `{"name": "kappa", "module": "index.js"}`,
		"node_modules/kappa/index.js":     "export const kappa = 1;\n",
		"node_modules/kappa/shared.js":    "export const helper = () => \"h\";\n",
		"node_modules/kappa/one.js":       "import { helper } from \"./shared.js\";\nexport const one = helper();\n",
		"node_modules/kappa/two.js":       "import { helper } from \"./shared.js\";\nexport const two = helper();\n",
	}
	wm := newTestWebModules(t, files, nil)
	ctx := testContext(t)

	for _, pathname := range []string{"kappa/one.js", "kappa/two.js"} {
		url, err := wm.ResolveImport(ctx, pathname, "")
		if err != nil {
			t.Fatal(err)
		}
		if url != "/web_modules/"+pathname {
			t.Fatalf("invalid url of '%s': '%s'", pathname, url)
		}
	}
	if wm.importMap.Has("kappa/shared.js") {
		ret, _ := wm.importMap.Get("kappa/shared.js")
		t.Fatalf("a file shared by subpath bundles should not be mapped, got '%s'", ret)
	}
	code := readOutput(t, wm, "kappa/two.js")
	if strings.Contains(code, "/web_modules/kappa/one.js") {
		t.Fatalf("two.js should not import one.js:\n%s", code)
	}
	if !strings.Contains(code, "helper") {
		t.Fatalf("the shared helper should be inlined:\n%s", code)
	}

	url, err := wm.ResolveImport(ctx, "kappa/shared.js", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/web_modules/kappa/shared.js" {
		t.Fatalf("invalid url of the shared file '%s'", url)
	}
}

func TestBundleSquashed(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	ctx := testContext(t)

	url, err := wm.ResolveImport(ctx, "delta", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/web_modules/delta.js" {
		t.Fatalf("invalid url '%s'", url)
	}
	code := readOutput(t, wm, "delta.js")
	if strings.Contains(code, `"@babel/runtime/helpers/extends"`) {
		t.Fatalf("squashed packages should be inlined:\n%s", code)
	}
	if wm.importMap.Has("@babel/runtime/helpers/extends.js") {
		t.Fatal("the files of squashed packages should not be mapped")
	}

	helper, err := wm.ResolveImport(ctx, "@babel/runtime/helpers/extends", "")
	if err != nil {
		t.Fatal(err)
	}
	if helper != "/web_modules/@babel/runtime/helpers/extends.js" {
		t.Fatalf("invalid url '%s'", helper)
	}
	if wm.importMap.Has("@babel/runtime") {
		t.Fatal("squashed packages are not bundled as a whole")
	}
}

func TestBundleCircular(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, func(config *Config) {
		config.BuildConcurrency = 1
	})
	url, err := wm.ResolveImport(testContext(t), "ping", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/web_modules/ping.js" {
		t.Fatalf("invalid url '%s'", url)
	}
	if !strings.Contains(readOutput(t, wm, "pong.js"), `"/web_modules/ping.js"`) {
		t.Fatal("pong should import the predicted url of ping")
	}
}

func TestBundleConcurrent(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	ctx := testContext(t)

	var wg sync.WaitGroup
	urls := make([]string, 8)
	errs := make([]error, 8)
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = wm.ResolveImport(ctx, "gamma", "")
		}(i)
	}
	wg.Wait()
	for i, url := range urls {
		if errs[i] != nil {
			t.Fatal(errs[i])
		}
		if url != "/web_modules/gamma.js" {
			t.Fatalf("invalid url '%s'", url)
		}
	}
	metas, err := wm.ListBuildMeta()
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 3 {
		t.Fatalf("gamma, alpha and beta should be built once, got %d builds", len(metas))
	}
}

func TestBundleNotFound(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	_, err := wm.ResolveImport(testContext(t), "missing-pkg", "")
	if !errors.Is(err, npm.ErrModuleNotFound) {
		t.Fatalf("expected a module not found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Cannot find module 'missing-pkg/package.json'") {
		t.Fatalf("invalid error message '%s'", err.Error())
	}
	if wm.importMap.Has("missing-pkg") {
		t.Fatal("failed builds should not update the import map")
	}

	if _, err = wm.Bundle(testContext(t), "./relative"); err == nil {
		t.Fatal("relative pathnames can't be bundled")
	}
}

func TestWorkspacePrecedence(t *testing.T) {
	files := map[string]string{
		"package.json":                `{"name": "root", "private": true, "workspaces": ["packages/*"]}`,
		"packages/alpha/package.json": `{"name": "alpha", "version": "0.1.0", "module": "src/index.js"}`,
		"packages/alpha/src/index.js": "export default 1;\n",
		"web_modules/import-map.json": `{"imports": {"alpha": "/web_modules/alpha.js"}}`,
		"web_modules/alpha.js":        "export default 0;\n",
	}
	for name, content := range fixturePackages {
		files[name] = content
	}
	wm := newTestWebModules(t, files, nil)
	url, err := wm.ResolveImport(testContext(t), "alpha", "")
	if err != nil {
		t.Fatal(err)
	}
	if url != "/workspaces/packages/alpha/src/index.js" {
		t.Fatalf("workspace packages should win, got '%s'", url)
	}
}

func TestClean(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, func(config *Config) {
		config.MetaDB = "none"
	})
	if _, err := wm.ResolveImport(testContext(t), "alpha", ""); err != nil {
		t.Fatal(err)
	}
	config := *wm.config
	config.Clean = true
	clean, err := New(&config)
	if err != nil {
		t.Fatal(err)
	}
	if clean.importMap.Len() != 0 {
		t.Fatalf("the import map should be empty after a clean, got %v", clean.importMap.Keys())
	}
	if _, err := os.Stat(filepath.Join(config.OutDir(), "alpha.js")); !os.IsNotExist(err) {
		t.Fatal("the output directory should be removed")
	}
}
