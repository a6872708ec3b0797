package importmap

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const importMapJson = `{
  "imports": {
    "react":          "/web_modules/react.js",
    "react/index.js": "/web_modules/react.js",
    "lit-html":       "/web_modules/lit-html.js",
    "broken": "web_modules/broken.js"
  }
}`

func TestLoadDropsStaleEntries(t *testing.T) {
	rootDir := t.TempDir()
	outDir := filepath.Join(rootDir, "web_modules")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, FileName), []byte(importMapJson), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "react.js"), []byte("export default {}"), 0644); err != nil {
		t.Fatal(err)
	}

	im := Load(outDir, rootDir)
	if im.Len() != 2 {
		t.Fatalf("Expected 2 imports, got %d: %v", im.Len(), im.Keys())
	}
	if url, ok := im.Get("react/index.js"); !ok || url != "/web_modules/react.js" {
		t.Fatalf("Expected 'react/index.js' to be mapped to '/web_modules/react.js', got '%s'", url)
	}
	if im.Has("lit-html") {
		t.Fatal("Expected stale 'lit-html' to be dropped")
	}
	if im.Has("broken") {
		t.Fatal("Expected relative url of 'broken' to be dropped")
	}
}

func TestLoadWorkspaceEntries(t *testing.T) {
	rootDir := t.TempDir()
	outDir := filepath.Join(rootDir, "web_modules")
	if err := os.MkdirAll(filepath.Join(rootDir, "packages", "alpha", "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rootDir, "packages", "alpha", "src", "index.js"), []byte("export default 1"), 0644); err != nil {
		t.Fatal(err)
	}
	im := New(map[string]string{
		"alpha": "/workspaces/packages/alpha/src/index.js",
		"beta":  "/workspaces/packages/beta/index.js",
	})
	if err := im.Persist(outDir); err != nil {
		t.Fatal(err)
	}

	loaded := Load(outDir, rootDir)
	if url, _ := loaded.Get("alpha"); url != "/workspaces/packages/alpha/src/index.js" {
		t.Fatalf("Expected the workspace entry 'alpha' to be kept, got '%s'", url)
	}
	if loaded.Has("beta") {
		t.Fatal("Expected the missing workspace entry 'beta' to be dropped")
	}
}

func TestLoadMalformed(t *testing.T) {
	rootDir := t.TempDir()
	if im := Load(filepath.Join(rootDir, "missing"), rootDir); im.Len() != 0 {
		t.Fatalf("Expected empty import map, got %d imports", im.Len())
	}
	if err := os.WriteFile(filepath.Join(rootDir, FileName), []byte("{imports:"), 0644); err != nil {
		t.Fatal(err)
	}
	if im := Load(rootDir, rootDir); im.Len() != 0 {
		t.Fatalf("Expected empty import map, got %d imports", im.Len())
	}
}

func TestPersist(t *testing.T) {
	rootDir := t.TempDir()
	outDir := filepath.Join(rootDir, "web_modules")
	im := New(map[string]string{
		"react":          "/web_modules/react.js",
		"object-assign":  "/web_modules/react.js",
		"react/index.js": "/web_modules/react.js",
	})
	if err := im.Persist(outDir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, FileName))
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		`{`,
		`  "imports": {`,
		`    "object-assign": "/web_modules/react.js",`,
		`    "react": "/web_modules/react.js",`,
		`    "react/index.js": "/web_modules/react.js"`,
		`  }`,
		`}`,
	}, "\n")
	if string(data) != want {
		t.Fatalf("unexpected import map file:\n%s", data)
	}

	// overwrite with an empty map
	im = New(nil)
	if err = im.Persist(outDir); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(filepath.Join(outDir, FileName))
	if string(data) != "{\n  \"imports\": {}\n}" {
		t.Fatalf("unexpected import map file:\n%s", data)
	}
}

func TestMerge(t *testing.T) {
	cached := New(map[string]string{
		"module-a": "/web_modules/module-a.js",
		"react":    "/web_modules/react.js",
	})
	workspaces := New(map[string]string{
		"module-a": "/workspaces/module-a/index.js",
	})
	im := Merge(cached, workspaces)
	if url, _ := im.Get("module-a"); url != "/workspaces/module-a/index.js" {
		t.Fatalf("Expected the workspace to win, got '%s'", url)
	}
	if url, _ := im.Get("react"); url != "/web_modules/react.js" {
		t.Fatalf("Expected 'react' to be kept, got '%s'", url)
	}
	// the sources are not modified
	if url, _ := cached.Get("module-a"); url != "/web_modules/module-a.js" {
		t.Fatalf("Expected the base to be untouched, got '%s'", url)
	}
}

func TestConcurrentAccess(t *testing.T) {
	im := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			im.Set(key, "/web_modules/"+key+".js")
			im.Get(key)
			im.Keys()
		}(i)
	}
	wg.Wait()
	if im.Len() != 16 {
		t.Fatalf("Expected 16 imports, got %d", im.Len())
	}
}
