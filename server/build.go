package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/glromeo/esnext-web-modules/internal/npm"
	"github.com/glromeo/esnext-web-modules/internal/specifier"
	"github.com/goccy/go-json"
)

// Bundle returns the build task of the pathname, a bare package name optionally followed by
// a subpath. Concurrent calls for the same pathname share the same task.
func (wm *WebModules) Bundle(ctx context.Context, pathname string) (*BuildTask, error) {
	if !specifier.IsBare(pathname) || strings.ContainsRune(pathname, '?') {
		return nil, fmt.Errorf("invalid pathname '%s'", pathname)
	}
	return wm.queue.add(pathname, wm.importMap, outputURL(pathname), wm.build), nil
}

// build bundles the pathname of the task into the web_modules directory.
func (wm *WebModules) build(task *BuildTask) (err error) {
	ctx := withTask(context.Background(), task)
	start := time.Now()
	module, subpath := specifier.ParsePathname(task.Pathname)
	squashed := wm.isSquashed(module)
	log.Infof("bundling web module '%s'", task.Pathname)

	if subpath != "" && !wm.importMap.Has(module) && !squashed {
		var dep *BuildTask
		dep, err = wm.Bundle(ctx, module)
		if err != nil {
			return
		}
		if _, err = wm.queue.wait(ctx, dep); err != nil {
			return
		}
	}

	pkg, err := wm.resolver.ResolvePackage(module, wm.config.RootDir)
	if err != nil {
		return
	}

	var entry string
	if subpath == "" {
		entry, err = wm.resolver.EntryFile(pkg)
	} else {
		entry, err = wm.resolver.ResolveFile(filepath.Join(pkg.Dir, filepath.FromSlash(subpath)))
	}
	if err != nil {
		return
	}

	proxy := proxyNone
	rewrite := true
	if subpath != "" {
		if squashed {
			proxy = proxyESM
		}
	} else if squashed {
		rewrite = false
	} else {
		proxy = proxyOf(entry, pkg.IsESM())
	}

	var (
		source  string
		exports []string
	)
	if proxy != proxyNone {
		source, exports, err = wm.proxySource(proxy, entry)
		if err != nil {
			return
		}
	}

	options := wm.buildOptions(task.Pathname)
	if proxy != proxyNone {
		options.EntryPoints = []string{"proxy:" + task.Pathname}
		options.Plugins = append(options.Plugins, proxyPlugin(source, filepath.Dir(entry)))
	} else {
		options.EntryPoints = []string{entry}
	}
	if len(wm.config.Fakes) > 0 {
		options.Plugins = append(options.Plugins, wm.fakePlugin())
	}
	if rewrite {
		options.Plugins = append(options.Plugins, wm.rewritePlugin(ctx, task))
	}

	result := api.Build(options)
	for _, w := range result.Warnings {
		log.Debugf("bundle '%s': %s", task.Pathname, w.Text)
	}
	if len(result.Errors) > 0 {
		return &BundleError{Pathname: task.Pathname, Messages: result.Errors}
	}

	resolved, requires := task.snapshot()
	var shim string
	if len(requires) > 0 {
		shim = requireShim(requires)
	}
	outDir := wm.config.OutDir()
	for _, file := range result.OutputFiles {
		var name string
		name, err = filepath.Rel(outDir, file.Path)
		if err != nil {
			return
		}
		name = filepath.ToSlash(name)
		contents := file.Contents
		if strings.HasSuffix(name, ".map") {
			if shim != "" {
				contents, err = shiftSourceMap(contents, strings.Count(shim, "\n"))
				if err != nil {
					return fmt.Errorf("bundle '%s': %w", task.Pathname, err)
				}
			}
		} else {
			if shim != "" {
				contents = append([]byte(shim), contents...)
			}
			contents = rewriteImports(name, contents, resolved)
		}
		if err = wm.writeOutput(name, contents); err != nil {
			return
		}
	}

	inputs, err := wm.updateImportMap(task, module, entry, result.Metafile)
	if err != nil {
		return
	}
	if err := wm.importMap.Persist(outDir); err != nil {
		log.Errorf("persist import map: %v", err)
	}

	meta := &BuildMeta{
		Pathname: task.Pathname,
		URL:      task.URL,
		Entry:    entry,
		Proxy:    string(proxy),
		Exports:  exports,
		Inputs:   inputs,
		Requires: requires,
		Duration: time.Since(start),
		BuiltAt:  time.Now(),
	}
	if err := wm.saveBuildMeta(meta); err != nil {
		log.Warnf("save build meta of '%s': %v", task.Pathname, err)
	}
	task.meta = meta
	return nil
}

func (wm *WebModules) buildOptions(pathname string) api.BuildOptions {
	config := wm.config
	nodeEnv := strconv.Quote(config.NodeEnv)
	options := api.BuildOptions{
		AbsWorkingDir:     config.RootDir,
		Outfile:           filepath.Join(config.OutDir(), filepath.FromSlash(outputName(pathname))),
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            api.ESNext,
		NodePaths:         config.ModuleDirectories,
		ResolveExtensions: config.Extensions,
		MainFields:        []string{"browser", "module", "main"},
		External:          config.External,
		LogLevel:          api.LogLevelSilent,
		Define: map[string]string{
			"process.env.NODE_ENV":        nodeEnv,
			"global.process.env.NODE_ENV": nodeEnv,
		},
	}
	if config.Minify {
		options.MinifyWhitespace = true
		options.MinifyIdentifiers = true
		options.MinifySyntax = true
	} else if config.SourceMap {
		options.Sourcemap = api.SourceMapLinked
	}
	return options
}

// proxyPlugin loads the generated proxy module as the entry point.
func proxyPlugin(source string, resolveDir string) api.Plugin {
	return api.Plugin{
		Name: "proxy",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(
				api.OnResolveOptions{Filter: "^proxy:"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind != api.ResolveEntryPoint {
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{Path: strings.TrimPrefix(args.Path, "proxy:"), Namespace: "proxy"}, nil
				},
			)
			build.OnLoad(
				api.OnLoadOptions{Filter: ".*", Namespace: "proxy"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return api.OnLoadResult{Contents: &source, ResolveDir: resolveDir, Loader: api.LoaderJS}, nil
				},
			)
		},
	}
}

// fakeSource returns the replacement source of the specifier, exact names win over globs.
func (wm *WebModules) fakeSource(spec string) (string, bool) {
	if source, ok := wm.config.Fakes[spec]; ok {
		return source, true
	}
	for _, pattern := range sortedKeys(wm.config.Fakes) {
		if ok, err := doublestar.Match(pattern, spec); err == nil && ok {
			return wm.config.Fakes[pattern], true
		}
	}
	return "", false
}

// fakePlugin replaces the configured modules with their fake source.
func (wm *WebModules) fakePlugin() api.Plugin {
	rootDir := wm.config.RootDir
	return api.Plugin{
		Name: "fake-modules",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(
				api.OnResolveOptions{Filter: ".*"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind == api.ResolveEntryPoint {
						return api.OnResolveResult{}, nil
					}
					if _, ok := wm.fakeSource(args.Path); ok {
						return api.OnResolveResult{Path: args.Path, Namespace: "fake"}, nil
					}
					return api.OnResolveResult{}, nil
				},
			)
			build.OnLoad(
				api.OnLoadOptions{Filter: ".*", Namespace: "fake"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					source, _ := wm.fakeSource(args.Path)
					return api.OnLoadResult{Contents: &source, ResolveDir: rootDir, Loader: api.LoaderJS}, nil
				},
			)
		},
	}
}

// rewritePlugin marks the imports of other web modules as external and records their urls,
// squashed packages are inlined. Imports that can't be resolved stay external with a warning.
func (wm *WebModules) rewritePlugin(ctx context.Context, task *BuildTask) api.Plugin {
	return api.Plugin{
		Name: "rewrite-imports",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(
				api.OnResolveOptions{Filter: ".*"},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind == api.ResolveEntryPoint || args.Namespace == "proxy" {
						return api.OnResolveResult{}, nil
					}
					spec := args.Path
					isRequire := args.Kind == api.ResolveJSRequireCall
					if specifier.IsURL(spec) {
						return api.OnResolveResult{Path: spec, External: true}, nil
					}
					if !specifier.IsBare(spec) {
						if args.ResolveDir == "" {
							return api.OnResolveResult{}, nil
						}
						file, err := wm.resolver.ResolveFile(filepath.Join(args.ResolveDir, filepath.FromSlash(spec)))
						if err != nil {
							return api.OnResolveResult{}, nil
						}
						key := specifier.BareNodeModule(file)
						if key == specifier.ToPosix(file) {
							return api.OnResolveResult{}, nil
						}
						if url, ok := wm.importMap.Get(key); ok && url != task.URL {
							task.annotate(url, url, isRequire)
							return api.OnResolveResult{Path: url, External: true}, nil
						}
						return api.OnResolveResult{}, nil
					}
					if wm.isExternal(spec) {
						return api.OnResolveResult{Path: spec, External: true}, nil
					}
					if specifier.IsNodeBuiltin(spec) {
						log.Warnf("bundle '%s': module \"%s\" (Node.js built-in) is not available in the browser", task.Pathname, spec)
						return api.OnResolveResult{Path: spec, External: true}, nil
					}
					if wm.isSquashed(spec) {
						return api.OnResolveResult{}, nil
					}
					url, err := wm.ResolveImport(ctx, spec, "")
					if err != nil {
						if errors.Is(err, npm.ErrModuleNotFound) {
							log.Warnf("bundle '%s': module \"%s\" could not be resolved ...is it installed?", task.Pathname, spec)
							return api.OnResolveResult{Path: spec, External: true}, nil
						}
						return api.OnResolveResult{}, err
					}
					task.annotate(spec, url, isRequire)
					return api.OnResolveResult{Path: spec, External: true}, nil
				},
			)
		},
	}
}

// requireShim declares the `require` function used by the bundled CommonJS code to load
// the external web modules.
func requireShim(requires []string) string {
	buf := &strings.Builder{}
	for i, spec := range requires {
		fmt.Fprintf(buf, "import * as __req%d$ from %s;\n", i, strconv.Quote(spec))
	}
	buf.WriteString("var require = n => {\n")
	buf.WriteString("  const e = m => \"default\" in m ? m.default : m;\n")
	buf.WriteString("  switch (n) {\n")
	for i, spec := range requires {
		fmt.Fprintf(buf, "    case %s: return e(__req%d$);\n", strconv.Quote(spec), i)
	}
	buf.WriteString("    default: throw new Error(\"module \\\"\" + n + \"\\\" not found\");\n")
	buf.WriteString("  }\n};\n")
	return buf.String()
}

type sourceMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Mappings       string    `json:"mappings"`
	Names          []string  `json:"names"`
}

// shiftSourceMap moves the mappings of a source map down by the given number of generated lines.
func shiftSourceMap(data []byte, lines int) ([]byte, error) {
	var sm sourceMap
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("invalid source map: %w", err)
	}
	sm.Mappings = strings.Repeat(";", lines) + sm.Mappings
	return json.Marshal(&sm)
}

func (wm *WebModules) writeOutput(name string, contents []byte) error {
	if _, err := wm.fs.WriteFile(name, bytes.NewReader(contents)); err != nil {
		return err
	}
	if wm.mirror != nil {
		if _, err := wm.mirror.WriteFile(name, bytes.NewReader(contents)); err != nil {
			log.Warnf("mirror '%s': %v", name, err)
		}
	}
	return nil
}

type metafile struct {
	Inputs map[string]struct {
		Bytes int `json:"bytes"`
	} `json:"inputs"`
}

// updateImportMap maps the node_modules files bundled by the task, and the pathname itself, to
// the url of the task. Synthetic modules and the files of squashed packages are not mapped.
// A subpath bundle only exports the names of its entry, so only the entry is mapped.
func (wm *WebModules) updateImportMap(task *BuildTask, module string, entry string, data string) (inputs []string, err error) {
	var meta metafile
	if err = json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("bundle '%s': invalid metafile: %w", task.Pathname, err)
	}
	inputs = sortedKeys(meta.Inputs)
	if task.Pathname != module {
		if key := specifier.BareNodeModule(entry); key != specifier.ToPosix(entry) && !wm.importMap.Has(key) {
			wm.importMap.Set(key, task.URL)
		}
		wm.importMap.Set(task.Pathname, task.URL)
		return inputs, nil
	}
	for _, input := range inputs {
		if strings.HasPrefix(input, "proxy:") || strings.HasPrefix(input, "fake:") {
			continue
		}
		key := specifier.BareNodeModule(input)
		if key == specifier.ToPosix(input) {
			continue
		}
		if name := specifier.PackageName(key); name != module && wm.isSquashed(name) {
			continue
		}
		if !wm.importMap.Has(key) {
			wm.importMap.Set(key, task.URL)
		}
	}
	wm.importMap.Set(task.Pathname, task.URL)
	return inputs, nil
}

func (task *BuildTask) annotate(spec string, url string, require bool) {
	task.lock.Lock()
	defer task.lock.Unlock()
	task.resolved[spec] = url
	if require {
		for _, name := range task.requires {
			if name == spec {
				return
			}
		}
		task.requires = append(task.requires, spec)
	}
}

// snapshot copies the urls resolved while bundling, requires are sorted.
func (task *BuildTask) snapshot() (map[string]string, []string) {
	task.lock.Lock()
	defer task.lock.Unlock()
	resolved := make(map[string]string, len(task.resolved))
	for spec, url := range task.resolved {
		resolved[spec] = url
	}
	requires := append([]string{}, task.requires...)
	sort.Strings(requires)
	return resolved, requires
}
