package server

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/glromeo/esnext-web-modules/internal/specifier"
	"github.com/ije/esbuild-internal/helpers"
	"github.com/ije/esbuild-internal/js_ast"
	"github.com/ije/esbuild-internal/js_lexer"
)

// maximum nesting of blocks, conditionals and function bodies walked by the cjs lexer
const cjsWalkDepth = 8

var (
	// `0 && (...)`, the parser drops the dead right hand side so annotations are matched in the source
	regexpExportsAnnotation = regexp.MustCompile(`(?:^|[^\w$.])0\s*&&\s*\(`)
	regexpModuleExportsObj  = regexp.MustCompile(`^\s*module\.exports\s*=\s*\{`)
	regexpExportsDot        = regexp.MustCompile(`(?:^|[^\w$.])(?:module\.)?exports\.([\w$]+)\s*=[^=]`)
	regexpRequireCall       = regexp.MustCompile(`^require\(\s*(?:"([^"]+)"|'([^']+)')\s*\)$`)
)

// scanCJSExports collects the export names of a CommonJS module following its relative re-exports.
func (wm *WebModules) scanCJSExports(entry string) ([]string, error) {
	exports := []string{}
	seen := map[string]bool{"__esModule": true}
	visited := map[string]bool{}
	queue := []string{entry}
	for len(queue) > 0 {
		filename := queue[0]
		queue = queue[1:]
		if visited[filename] {
			continue
		}
		visited[filename] = true

		ret, err := wm.lexCJS(filename)
		if err != nil {
			if filename == entry {
				return nil, err
			}
			log.Debugf("cjs lexer: skip %s: %v", filename, err)
			continue
		}
		for _, name := range ret.Exports {
			if !seen[name] {
				seen[name] = true
				exports = append(exports, name)
			}
		}
		for _, reexport := range ret.Reexports {
			if specifier.IsBare(reexport) {
				log.Debugf("cjs lexer: skip bare re-export '%s' of %s", reexport, filename)
				continue
			}
			file, err := wm.resolver.Resolve(reexport, filepath.Dir(filename))
			if err != nil {
				log.Debugf("cjs lexer: %v", err)
				continue
			}
			if !visited[file] {
				queue = append(queue, file)
			}
		}
	}
	return exports, nil
}

// cjsProxy generates an ES module re-exporting the named exports and the default export of a CommonJS module.
func (wm *WebModules) cjsProxy(entry string) (string, []string, error) {
	exports, err := wm.scanCJSExports(entry)
	if err != nil {
		return "", nil, err
	}
	if len(exports) == 0 && !wm.config.DisableRuntimeExports {
		exports = wm.evalCJSExports(entry)
	}

	hasDefault := false
	for _, name := range exports {
		if name == "default" {
			hasDefault = true
			break
		}
	}

	buf := &strings.Builder{}
	if !hasDefault {
		fmt.Fprintf(buf, "import __default__ from %q;\nexport default __default__;\n", specifier.ToPosix(entry))
	}
	if len(exports) > 0 {
		writeExportBlock(buf, exports, entry)
	}
	return buf.String(), exports, nil
}

func (wm *WebModules) lexCJS(filename string) (*scanResult, error) {
	return wm.cachedScan("cjs:"+wm.config.NodeEnv, filename, func(filename string) (*scanResult, error) {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(filename, ".json") {
			return &scanResult{Exports: []string{}}, nil
		}
		tree, ok := parseJS(filename, string(data))
		if !ok {
			return nil, fmt.Errorf("cjs lexer: invalid syntax in %s", filename)
		}
		w := &cjsWalker{
			tree:     &tree,
			nodeEnv:  wm.config.NodeEnv,
			seen:     map[string]bool{},
			requires: map[string]string{},
		}
		for _, part := range tree.Parts {
			w.walkStmts(part.Stmts, 0)
		}
		w.scanAnnotations(string(data))
		return &scanResult{Exports: w.exports, Reexports: w.reexports}, nil
	})
}

// cjsWalker recognizes the shapes of CommonJS exports in the statements of a module.
type cjsWalker struct {
	tree      *js_ast.AST
	nodeEnv   string
	exports   []string
	reexports []string
	seen      map[string]bool
	requires  map[string]string
}

func (w *cjsWalker) addExport(name string) {
	if w.seen[name] || !(name == "default" || js_lexer.IsIdentifier(name)) {
		return
	}
	w.seen[name] = true
	w.exports = append(w.exports, name)
}

func (w *cjsWalker) addReexport(spec string) {
	if w.seen["\x00"+spec] {
		return
	}
	w.seen["\x00"+spec] = true
	w.reexports = append(w.reexports, spec)
}

func (w *cjsWalker) walkStmts(stmts []js_ast.Stmt, depth int) {
	if depth > cjsWalkDepth {
		return
	}
	for _, stmt := range stmts {
		w.walkStmt(stmt, depth)
	}
}

func (w *cjsWalker) walkStmt(stmt js_ast.Stmt, depth int) {
	switch s := stmt.Data.(type) {
	case *js_ast.SExpr:
		w.walkExpr(s.Value, depth)
	case *js_ast.SBlock:
		w.walkStmts(s.Stmts, depth+1)
	case *js_ast.SIf:
		switch w.evalNodeEnv(s.Test) {
		case 1:
			w.walkStmt(s.Yes, depth+1)
		case 0:
			if s.NoOrNil.Data != nil {
				w.walkStmt(s.NoOrNil, depth+1)
			}
		default:
			w.walkStmt(s.Yes, depth+1)
			if s.NoOrNil.Data != nil {
				w.walkStmt(s.NoOrNil, depth+1)
			}
		}
	case *js_ast.STry:
		w.walkStmts(s.Block.Stmts, depth+1)
	case *js_ast.SLocal:
		for _, decl := range s.Decls {
			if decl.ValueOrNil.Data == nil {
				continue
			}
			if spec, ok := w.requireSpec(decl.ValueOrNil); ok {
				if id, ok := decl.Binding.Data.(*js_ast.BIdentifier); ok {
					w.requires[w.symbolName(id.Ref.InnerIndex)] = spec
				}
				continue
			}
			w.walkExpr(decl.ValueOrNil, depth)
		}
	}
}

func (w *cjsWalker) walkExpr(expr js_ast.Expr, depth int) {
	if depth > cjsWalkDepth {
		return
	}
	switch e := expr.Data.(type) {
	case *js_ast.EBinary:
		switch e.Op {
		case js_ast.BinOpAssign:
			w.walkAssign(e.Left, e.Right, depth)
		case js_ast.BinOpComma:
			w.walkExpr(e.Left, depth)
			w.walkExpr(e.Right, depth)
		case js_ast.BinOpLogicalAnd:
			if w.evalNodeEnv(e.Left) != 0 {
				w.walkExpr(e.Right, depth+1)
			}
		case js_ast.BinOpLogicalOr:
			if w.evalNodeEnv(e.Left) != 1 {
				w.walkExpr(e.Right, depth+1)
			}
		}
	case *js_ast.EIf:
		switch w.evalNodeEnv(e.Test) {
		case 1:
			w.walkExpr(e.Yes, depth+1)
		case 0:
			w.walkExpr(e.No, depth+1)
		default:
			w.walkExpr(e.Yes, depth+1)
			w.walkExpr(e.No, depth+1)
		}
	case *js_ast.EUnary:
		w.walkExpr(e.Value, depth)
	case *js_ast.ECall:
		w.walkCall(e, depth)
	}
}

func (w *cjsWalker) walkAssign(left js_ast.Expr, right js_ast.Expr, depth int) {
	switch l := left.Data.(type) {
	case *js_ast.EDot:
		if w.isExports(l.Target) {
			w.addExport(l.Name)
			w.walkExpr(right, depth)
			return
		}
	case *js_ast.EIndex:
		if w.isExports(l.Target) {
			if name, ok := stringValue(l.Index); ok {
				w.addExport(name)
			}
			w.walkExpr(right, depth)
			return
		}
	}
	if !w.isModuleExports(left) {
		w.walkExpr(right, depth)
		return
	}
	if spec, ok := w.requireSpec(right); ok {
		w.addReexport(spec)
		return
	}
	switch r := right.Data.(type) {
	case *js_ast.EObject:
		w.addObjectKeys(r)
	case *js_ast.EIdentifier:
		if spec, ok := w.requires[w.symbolName(r.Ref.InnerIndex)]; ok {
			w.addReexport(spec)
		}
	case *js_ast.EIf:
		if depth >= cjsWalkDepth {
			return
		}
		switch w.evalNodeEnv(r.Test) {
		case 1:
			w.walkAssign(left, r.Yes, depth+1)
		case 0:
			w.walkAssign(left, r.No, depth+1)
		default:
			w.walkAssign(left, r.Yes, depth+1)
			w.walkAssign(left, r.No, depth+1)
		}
	default:
		w.walkExpr(right, depth)
	}
}

// scanAnnotations matches the `0 && (module.exports = { a, b })` and `0 && (exports.a = a)`
// annotations emitted by transpilers.
func (w *cjsWalker) scanAnnotations(code string) {
	for _, loc := range regexpExportsAnnotation.FindAllStringIndex(code, -1) {
		group, ok := parenGroup(code[loc[1]:])
		if !ok {
			continue
		}
		if m := regexpModuleExportsObj.FindStringIndex(group); m != nil {
			body, ok := braceGroup(group[m[1]:])
			if !ok {
				continue
			}
			for _, item := range strings.Split(body, ",") {
				item = strings.TrimSpace(item)
				if strings.HasPrefix(item, "...") {
					if sm := regexpRequireCall.FindStringSubmatch(strings.TrimSpace(item[3:])); sm != nil {
						w.addReexport(sm[1] + sm[2])
					}
					continue
				}
				key := item
				if i := strings.IndexByte(item, ':'); i >= 0 {
					key = strings.TrimSpace(item[:i])
				}
				if len(key) >= 2 && (key[0] == '"' || key[0] == '\'') && key[len(key)-1] == key[0] {
					key = key[1 : len(key)-1]
				}
				if key != "" {
					w.addExport(key)
				}
			}
			continue
		}
		for _, sm := range regexpExportsDot.FindAllStringSubmatch(group, -1) {
			w.addExport(sm[1])
		}
	}
}

// parenGroup returns the text up to the parenthesis closing an already opened one.
func parenGroup(s string) (string, bool) {
	return closeGroup(s, '(', ')')
}

// braceGroup returns the text up to the brace closing an already opened one.
func braceGroup(s string) (string, bool) {
	return closeGroup(s, '{', '}')
}

func closeGroup(s string, open byte, close byte) (string, bool) {
	depth := 1
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[:i], true
			}
		}
	}
	return "", false
}

func (w *cjsWalker) addObjectKeys(obj *js_ast.EObject) {
	for _, prop := range obj.Properties {
		if prop.Kind == js_ast.PropertySpread {
			if spec, ok := w.requireSpec(prop.ValueOrNil); ok {
				w.addReexport(spec)
			}
			continue
		}
		if name, ok := stringValue(prop.Key); ok {
			w.addExport(name)
		}
	}
}

func (w *cjsWalker) walkCall(call *js_ast.ECall, depth int) {
	// IIFEs and UMD factories
	if body, ok := fnBody(call.Target); ok {
		w.walkStmts(body, depth+1)
	} else if dot, ok := call.Target.Data.(*js_ast.EDot); ok && (dot.Name == "call" || dot.Name == "apply") {
		if body, ok := fnBody(dot.Target); ok {
			w.walkStmts(body, depth+1)
		}
	}
	for _, arg := range call.Args {
		if body, ok := fnBody(arg); ok {
			w.walkStmts(body, depth+1)
		}
	}

	switch w.calleeName(call.Target) {
	case "Object.defineProperty":
		if len(call.Args) >= 2 && w.isExports(call.Args[0]) {
			if name, ok := stringValue(call.Args[1]); ok {
				w.addExport(name)
			}
		}
	case "Object.assign":
		if len(call.Args) >= 2 && w.isExports(call.Args[0]) {
			for _, arg := range call.Args[1:] {
				if spec, ok := w.requireSpec(arg); ok {
					w.addReexport(spec)
				} else if obj, ok := arg.Data.(*js_ast.EObject); ok {
					w.addObjectKeys(obj)
				}
			}
		}
	case "__exportStar", "__export":
		if len(call.Args) == 0 {
			return
		}
		if spec, ok := w.requireSpec(call.Args[0]); ok {
			w.addReexport(spec)
		} else if id, ok := call.Args[0].Data.(*js_ast.EIdentifier); ok {
			if spec, ok := w.requires[w.symbolName(id.Ref.InnerIndex)]; ok {
				w.addReexport(spec)
			}
		}
		// esbuild: `__export(target, { name: () => name })`
		if len(call.Args) == 2 {
			if obj, ok := call.Args[1].Data.(*js_ast.EObject); ok {
				w.addObjectKeys(obj)
			}
		}
	case "forEach":
		// babel: `Object.keys(_x).forEach(function (key) { exports[key] = _x[key] })`
		dot, ok := call.Target.Data.(*js_ast.EDot)
		if !ok {
			return
		}
		keys, ok := dot.Target.Data.(*js_ast.ECall)
		if ok && w.calleeName(keys.Target) == "Object.keys" && len(keys.Args) == 1 {
			if id, ok := keys.Args[0].Data.(*js_ast.EIdentifier); ok {
				if spec, ok := w.requires[w.symbolName(id.Ref.InnerIndex)]; ok {
					w.addReexport(spec)
				}
			}
		}
	}
}

// calleeName returns `name`, `object.name` (for known objects) or the method name of a call target.
func (w *cjsWalker) calleeName(target js_ast.Expr) string {
	switch t := target.Data.(type) {
	case *js_ast.EIdentifier:
		return w.symbolName(t.Ref.InnerIndex)
	case *js_ast.EDot:
		if w.identName(t.Target) == "Object" {
			return "Object." + t.Name
		}
		return t.Name
	}
	return ""
}

// requireSpec matches `require("x")`, also wrapped by the interop helpers of transpilers.
func (w *cjsWalker) requireSpec(expr js_ast.Expr) (string, bool) {
	switch e := expr.Data.(type) {
	case *js_ast.ERequireString:
		if int(e.ImportRecordIndex) < len(w.tree.ImportRecords) {
			return w.tree.ImportRecords[e.ImportRecordIndex].Path.Text, true
		}
	case *js_ast.ECall:
		name := w.calleeName(e.Target)
		if name == "require" && len(e.Args) == 1 {
			return stringValue(e.Args[0])
		}
		if len(e.Args) >= 1 && isInteropHelper(name) {
			return w.requireSpec(e.Args[0])
		}
	}
	return "", false
}

func isInteropHelper(name string) bool {
	return strings.Contains(name, "interopRequire") || name == "__importStar" || name == "__importDefault" || name == "__toESM"
}

func (w *cjsWalker) isExports(expr js_ast.Expr) bool {
	return w.identName(expr) == "exports" || w.isModuleExports(expr)
}

func (w *cjsWalker) isModuleExports(expr js_ast.Expr) bool {
	switch e := expr.Data.(type) {
	case *js_ast.EDot:
		return e.Name == "exports" && w.identName(e.Target) == "module"
	case *js_ast.EIndex:
		name, ok := stringValue(e.Index)
		return ok && name == "exports" && w.identName(e.Target) == "module"
	}
	return false
}

// evalNodeEnv evaluates `process.env.NODE_ENV` comparisons: 1 true, 0 false, -1 unknown.
func (w *cjsWalker) evalNodeEnv(expr js_ast.Expr) int {
	switch e := expr.Data.(type) {
	case *js_ast.EUnary:
		if e.Op == js_ast.UnOpNot {
			if v := w.evalNodeEnv(e.Value); v >= 0 {
				return 1 - v
			}
		}
	case *js_ast.EBinary:
		var value string
		var ok bool
		if w.isNodeEnv(e.Left) {
			value, ok = stringValue(e.Right)
		} else if w.isNodeEnv(e.Right) {
			value, ok = stringValue(e.Left)
		}
		if !ok {
			return -1
		}
		switch e.Op {
		case js_ast.BinOpStrictEq, js_ast.BinOpLooseEq:
			if value == w.nodeEnv {
				return 1
			}
			return 0
		case js_ast.BinOpStrictNe, js_ast.BinOpLooseNe:
			if value != w.nodeEnv {
				return 1
			}
			return 0
		}
	}
	return -1
}

func (w *cjsWalker) isNodeEnv(expr js_ast.Expr) bool {
	dot, ok := expr.Data.(*js_ast.EDot)
	if !ok || dot.Name != "NODE_ENV" {
		return false
	}
	env, ok := dot.Target.Data.(*js_ast.EDot)
	return ok && env.Name == "env" && w.identName(env.Target) == "process"
}

func (w *cjsWalker) identName(expr js_ast.Expr) string {
	if id, ok := expr.Data.(*js_ast.EIdentifier); ok {
		return w.symbolName(id.Ref.InnerIndex)
	}
	return ""
}

func (w *cjsWalker) symbolName(index uint32) string {
	if int(index) < len(w.tree.Symbols) {
		return w.tree.Symbols[index].OriginalName
	}
	return ""
}

func fnBody(expr js_ast.Expr) ([]js_ast.Stmt, bool) {
	switch e := expr.Data.(type) {
	case *js_ast.EFunction:
		return e.Fn.Body.Block.Stmts, true
	case *js_ast.EArrow:
		return e.Body.Block.Stmts, true
	}
	return nil, false
}

func stringValue(expr js_ast.Expr) (string, bool) {
	if s, ok := expr.Data.(*js_ast.EString); ok {
		return helpers.UTF16ToString(s.Value), true
	}
	return "", false
}
