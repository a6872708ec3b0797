package importmap

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	logx "github.com/ije/gox/log"
)

// FileName is the name of the persisted import map inside the output directory.
const FileName = "import-map.json"

// WorkspacePrefix is the url prefix of the files of the workspace packages, relative to the root directory.
const WorkspacePrefix = "/workspaces/"

var log = &logx.Logger{}

// SetLogger sets the logger of the package.
func SetLogger(logger *logx.Logger) {
	log = logger
}

// ImportMapJson represents the JSON structure of a persisted import map.
type ImportMapJson struct {
	Imports map[string]string `json:"imports"`
}

// ImportMap maps specifiers and bare node_modules paths to the urls of the bundled web modules.
// It is safe for concurrent use.
type ImportMap struct {
	lock    sync.RWMutex
	imports map[string]string
}

// New creates an import map with the given imports.
func New(imports map[string]string) *ImportMap {
	im := &ImportMap{imports: make(map[string]string, len(imports))}
	for specifier, url := range imports {
		im.imports[specifier] = url
	}
	return im
}

// Len returns the length of the imports map.
func (im *ImportMap) Len() int {
	im.lock.RLock()
	defer im.lock.RUnlock()
	return len(im.imports)
}

// Keys returns the sorted keys of the imports map.
func (im *ImportMap) Keys() []string {
	im.lock.RLock()
	keys := make([]string, 0, len(im.imports))
	for key := range im.imports {
		keys = append(keys, key)
	}
	im.lock.RUnlock()
	sort.Strings(keys)
	return keys
}

// Get returns the url of the specifier.
func (im *ImportMap) Get(specifier string) (string, bool) {
	im.lock.RLock()
	defer im.lock.RUnlock()
	url, ok := im.imports[specifier]
	return url, ok
}

// Has reports whether the specifier is mapped.
func (im *ImportMap) Has(specifier string) bool {
	_, ok := im.Get(specifier)
	return ok
}

// Set maps the specifier to the url.
func (im *ImportMap) Set(specifier string, url string) {
	im.lock.Lock()
	defer im.lock.Unlock()
	im.imports[specifier] = url
}

// SetAll maps all the specifiers at once, readers never observe a partial update.
func (im *ImportMap) SetAll(imports map[string]string) {
	im.lock.Lock()
	defer im.lock.Unlock()
	for specifier, url := range imports {
		im.imports[specifier] = url
	}
}

// Imports returns a copy of the imports.
func (im *ImportMap) Imports() map[string]string {
	im.lock.RLock()
	defer im.lock.RUnlock()
	imports := make(map[string]string, len(im.imports))
	for specifier, url := range im.imports {
		imports[specifier] = url
	}
	return imports
}

// Merge returns a new import map with the entries of base overlaid by the entries of overlay.
func Merge(base *ImportMap, overlay *ImportMap) *ImportMap {
	im := New(nil)
	for _, m := range []*ImportMap{base, overlay} {
		if m != nil {
			im.SetAll(m.Imports())
		}
	}
	return im
}

// Load reads `import-map.json` from the output directory.
// A missing or malformed file yields an empty map, entries pointing to files
// that are no longer under the root directory are dropped.
func Load(outDir string, rootDir string) *ImportMap {
	filename := filepath.Join(outDir, FileName)
	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("import map: %v", err)
		}
		return New(nil)
	}

	var raw ImportMapJson
	if err = json.Unmarshal(data, &raw); err != nil {
		log.Warnf("import map: malformed %s: %v", filename, err)
		return New(nil)
	}

	im := New(nil)
	for specifier, url := range raw.Imports {
		if !strings.HasPrefix(url, "/") {
			log.Warnf("import map: '%s' has an invalid url '%s'", specifier, url)
			continue
		}
		file := url
		if strings.HasPrefix(url, WorkspacePrefix) {
			file = url[len(WorkspacePrefix)-1:]
		}
		fi, err := os.Stat(filepath.Join(rootDir, filepath.FromSlash(file)))
		if err != nil || fi.IsDir() {
			log.Warnf("import map: '%s' was stale", specifier)
			continue
		}
		log.Debugf("import map: %s -> %s (%s)", specifier, url, fi.ModTime().Format("2006-01-02T15:04:05"))
		im.imports[specifier] = url
	}
	return im
}

var persistLock sync.Mutex

// Persist writes the import map to `import-map.json` in the output directory overwriting its content.
func (im *ImportMap) Persist(outDir string) error {
	persistLock.Lock()
	defer persistLock.Unlock()

	err := os.MkdirAll(outDir, 0755)
	if err != nil {
		return err
	}
	filename := filepath.Join(outDir, FileName)
	tmp := filename + ".tmp"
	err = os.WriteFile(tmp, []byte(im.FormatJSON(0)), 0644)
	if err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

// MarshalJSON implements the json.Marshaler interface.
func (im *ImportMap) MarshalJSON() ([]byte, error) {
	return []byte(im.FormatJSON(0)), nil
}

// FormatJSON formats the import map as a JSON string indented with two spaces.
func (im *ImportMap) FormatJSON(indent int) string {
	buf := strings.Builder{}
	indentStr := bytes.Repeat([]byte{' ', ' '}, indent+1)
	buf.Write(indentStr[0 : 2*indent])
	buf.WriteString("{\n")
	buf.Write(indentStr)
	buf.WriteString("\"imports\": {")
	if im.Len() > 0 {
		buf.WriteByte('\n')
		formatImports(&buf, im, indent+2)
		buf.Write(indentStr)
	}
	buf.WriteString("}\n")
	buf.Write(indentStr[0 : 2*indent])
	buf.WriteByte('}')
	return buf.String()
}

func formatImports(buf *strings.Builder, im *ImportMap, indent int) {
	imports := im.Imports()
	keys := make([]string, 0, len(imports))
	for key, url := range imports {
		if url != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	indentStr := bytes.Repeat([]byte{' ', ' '}, indent)
	for i, key := range keys {
		buf.Write(indentStr)
		writeString(buf, key)
		buf.WriteString(": ")
		writeString(buf, imports[key])
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
}

func writeString(buf *strings.Builder, s string) {
	data, err := json.Marshal(s)
	if err != nil {
		buf.WriteString("\"\"")
		return
	}
	buf.Write(data)
}
