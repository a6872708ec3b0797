package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/ije/rex"
)

func serveRoute(t *testing.T, wm *WebModules, target string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	ctx := &rex.Context{W: w, R: r, Form: &rex.Form{R: r}}
	switch ret := routes(wm)(ctx).(type) {
	case string:
		w.WriteHeader(200)
		w.WriteString(ret)
	case []byte:
		w.WriteHeader(200)
		w.Write(ret)
	case *rex.Error:
		w.WriteHeader(ret.Status)
		w.WriteString(ret.Message)
	case nil:
		t.Fatalf("route %s returned nothing", target)
	default:
		// files and status payloads are written by rex itself
		w.WriteHeader(http.StatusOK)
	}
	return w
}

func TestRoutesResolve(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)

	w := serveRoute(t, wm, "/-/resolve?url=alpha")
	if w.Code != 200 || w.Body.String() != "/web_modules/alpha.js" {
		t.Fatalf("unexpected resolve response %d %q", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}

	w = serveRoute(t, wm, "/-/resolve")
	if w.Code != 400 {
		t.Fatalf("missing url should be a bad request, got %d", w.Code)
	}

	w = serveRoute(t, wm, "/-/resolve?url=not-installed")
	if w.Code != 404 {
		t.Fatalf("missing package should be not found, got %d", w.Code)
	}
}

func TestRoutesImportMap(t *testing.T) {
	wm := newTestWebModules(t, fixturePackages, nil)
	if _, err := wm.ResolveImport(testContext(t), "alpha", ""); err != nil {
		t.Fatal(err)
	}

	w := serveRoute(t, wm, "/-/import-map.json")
	if w.Code != 200 {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/importmap+json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var doc struct {
		Imports map[string]string `json:"imports"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Imports["alpha"] != "/web_modules/alpha.js" {
		t.Fatalf("import map should map alpha, got %v", doc.Imports)
	}
}
