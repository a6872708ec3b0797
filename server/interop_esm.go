package server

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glromeo/esnext-web-modules/internal/specifier"
	"github.com/ije/esbuild-internal/ast"
)

type esmExports struct {
	File  string
	Names []string
}

// scanESMExports follows the relative imports of an ES module depth first, every file
// contributes the export names no file visited before it has exported.
func (wm *WebModules) scanESMExports(entry string) ([]esmExports, error) {
	collected := []esmExports{}
	encountered := map[string]bool{}
	visited := map[string]bool{}
	stack := []string{entry}
	for len(stack) > 0 {
		filename := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[filename] {
			continue
		}
		visited[filename] = true

		ret, err := wm.lexESM(filename)
		if err != nil {
			if filename == entry {
				return nil, err
			}
			log.Debugf("esm lexer: skip %s: %v", filename, err)
			continue
		}
		names := []string{}
		for _, name := range ret.Exports {
			if !encountered[name] {
				encountered[name] = true
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			collected = append(collected, esmExports{File: filename, Names: names})
		}

		dir := filepath.Dir(filename)
		for i := len(ret.Imports) - 1; i >= 0; i-- {
			imported := ret.Imports[i]
			switch imported {
			case ".":
				imported = "./index"
			case "..":
				imported = "../index"
			}
			file, err := wm.resolver.ResolveFile(filepath.Join(dir, filepath.FromSlash(imported)))
			if err != nil {
				log.Debugf("esm lexer: %v", err)
				continue
			}
			if !visited[file] {
				stack = append(stack, file)
			}
		}
	}
	return collected, nil
}

// esmProxy generates an ES module re-exporting every name exported by the entry and by
// the files it imports.
func (wm *WebModules) esmProxy(entry string) (string, []string, error) {
	collected, err := wm.scanESMExports(entry)
	if err != nil {
		return "", nil, err
	}
	buf := &strings.Builder{}
	exports := []string{}
	for _, e := range collected {
		writeExportBlock(buf, e.Names, e.File)
		exports = append(exports, e.Names...)
	}
	if len(collected) == 0 {
		fmt.Fprintf(buf, "import %q;\n", specifier.ToPosix(entry))
	}
	posixEntry := specifier.ToPosix(entry)
	for _, suffix := range sortedKeys(wm.config.ESMShims) {
		if strings.HasSuffix(posixEntry, suffix) {
			buf.WriteString(wm.config.ESMShims[suffix])
		}
	}
	return buf.String(), exports, nil
}

func (wm *WebModules) lexESM(filename string) (*scanResult, error) {
	return wm.cachedScan("esm", filename, func(filename string) (*scanResult, error) {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		tree, ok := parseJS(filename, string(data))
		if !ok {
			return nil, fmt.Errorf("esm lexer: invalid syntax in %s", filename)
		}
		exports := make([]string, 0, len(tree.NamedExports))
		for name := range tree.NamedExports {
			exports = append(exports, name)
		}
		sort.Strings(exports)
		imports := []string{}
		for _, record := range tree.ImportRecords {
			if record.Kind != ast.ImportStmt {
				continue
			}
			if spec := record.Path.Text; !specifier.IsBare(spec) && !strings.HasPrefix(spec, "/") {
				imports = append(imports, spec)
			}
		}
		return &scanResult{Exports: exports, Imports: imports}, nil
	})
}
