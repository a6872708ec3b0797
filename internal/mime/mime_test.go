package mime

import "testing"

func TestContentType(t *testing.T) {
	for filename, want := range map[string]string{
		"react.js":       "application/javascript; charset=utf-8",
		"react.js.map":   "application/json; charset=utf-8",
		"bootstrap.css":  "text/css; charset=utf-8",
		"lib/shady.wasm": "application/wasm",
		"README":         "application/octet-stream",
	} {
		if got := ContentType(filename); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", filename, got, want)
		}
	}
}

func TestIsModule(t *testing.T) {
	if !IsModule("lit-html/lib/shady-render.js") || !IsModule("index.tsx") {
		t.Fatal("should be a module")
	}
	if IsModule("bootstrap/dist/css/bootstrap.css") || IsModule("delta.sigma") || IsModule("data.json") {
		t.Fatal("should not be a module")
	}
}
