package npm

import (
	"strings"

	"github.com/goccy/go-json"
)

// PackageJSONRaw defines the package.json of a installed package
type PackageJSONRaw struct {
	Name             string  `json:"name"`
	Version          string  `json:"version"`
	Type             string  `json:"type"`
	Main             JSONAny `json:"main"`
	Module           JSONAny `json:"module"`
	ES2015           JSONAny `json:"es2015"`
	JsNextMain       JSONAny `json:"jsnext:main"`
	Dependencies     any     `json:"dependencies"`
	DevDependencies  any     `json:"devDependencies"`
	PeerDependencies any     `json:"peerDependencies"`
	Workspaces       JSONAny `json:"workspaces"`
	Private          bool    `json:"private"`
}

// PackageJSON defines the normalized package.json of a installed package
type PackageJSON struct {
	Name             string
	Version          string
	Type             string
	Main             string
	Module           string
	Dependencies     map[string]string
	DevDependencies  map[string]string
	PeerDependencies map[string]string
	Workspaces       []string
	Private          bool
}

// ToPackageJSON converts PackageJSONRaw to PackageJSON
func (a *PackageJSONRaw) ToPackageJSON() *PackageJSON {
	p := &PackageJSON{
		Name:             a.Name,
		Version:          a.Version,
		Type:             a.Type,
		Main:             a.Main.MainString(),
		Module:           a.Module.MainString(),
		Dependencies:     toStringMap(a.Dependencies),
		DevDependencies:  toStringMap(a.DevDependencies),
		PeerDependencies: toStringMap(a.PeerDependencies),
		Workspaces:       a.Workspaces.Strings("packages"),
		Private:          a.Private,
	}

	// normalize package module field
	if p.Module == "" {
		if es2015 := a.ES2015.MainString(); es2015 != "" {
			p.Module = es2015
		} else if jsNextMain := a.JsNextMain.MainString(); jsNextMain != "" {
			p.Module = jsNextMain
		} else if p.Main != "" && (p.Type == "module" || strings.HasSuffix(p.Main, ".mjs")) {
			p.Module = p.Main
		}
	}

	return p
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (a *PackageJSON) UnmarshalJSON(b []byte) error {
	var raw PackageJSONRaw
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = *raw.ToPackageJSON()
	return nil
}

// IsESM reports whether the package ships an ES module entry.
func (a *PackageJSON) IsESM() bool {
	return a.Module != ""
}

// Entry returns the entry of the package, the ES module entry is preferred.
func (a *PackageJSON) Entry() string {
	if a.Module != "" {
		return a.Module
	}
	if a.Main != "" {
		return a.Main
	}
	return "index.js"
}

// DependencyRange returns the version range of a dependency declared by the package.
func (a *PackageJSON) DependencyRange(name string) (string, bool) {
	for _, deps := range []map[string]string{a.Dependencies, a.DevDependencies, a.PeerDependencies} {
		if v, ok := deps[name]; ok {
			return v, true
		}
	}
	return "", false
}

type JSONAny struct {
	Str string
	Arr []any
	Map map[string]any
	Any any
}

func (a *JSONAny) MarshalJSON() ([]byte, error) {
	if a.Str != "" {
		return json.Marshal(a.Str)
	}
	if a.Arr != nil {
		return json.Marshal(a.Arr)
	}
	if a.Map != nil {
		return json.Marshal(a.Map)
	}
	return json.Marshal(a.Any)
}

func (a *JSONAny) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		a.Str = s
		return nil
	}
	var arr []any
	if json.Unmarshal(b, &arr) == nil {
		a.Arr = arr
		return nil
	}
	var m map[string]any
	if json.Unmarshal(b, &m) == nil {
		a.Map = m
		return nil
	}
	return json.Unmarshal(b, &a.Any)
}

func (a *JSONAny) MainString() string {
	if a.Str != "" {
		return a.Str
	}
	if a.Map != nil {
		if v, ok := a.Map["."]; ok {
			if s, isStr := v.(string); isStr {
				return s
			}
		}
	}
	return ""
}

// Strings returns the string items of an array value, or of the array stored
// under the given key of an object value.
func (a *JSONAny) Strings(key string) []string {
	arr := a.Arr
	if arr == nil && a.Map != nil {
		arr, _ = a.Map[key].([]any)
	}
	var list []string
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			list = append(list, s)
		}
	}
	return list
}

func toStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	deps := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok && k != "" && s != "" {
			deps[k] = s
		}
	}
	return deps
}
