package workspace

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/glromeo/esnext-web-modules/internal/importmap"
	"github.com/glromeo/esnext-web-modules/internal/npm"
	logx "github.com/ije/gox/log"
	"github.com/ije/gox/utils"
)

// URLPrefix is the url prefix of the files of the workspace packages.
const URLPrefix = importmap.WorkspacePrefix

var log = &logx.Logger{}

// SetLogger sets the logger of the package.
func SetLogger(logger *logx.Logger) {
	log = logger
}

// Package is a package found in the workspace.
type Package struct {
	Name  string
	Dir   string
	Entry string
	URL   string
}

// Scan reads the root package.json, resolves its `workspaces` globs and maps every
// package found (the root package included) to the url of its entry file.
func Scan(rootDir string) (*importmap.ImportMap, error) {
	packages, err := ScanPackages(rootDir)
	if err != nil {
		return nil, err
	}
	im := importmap.New(nil)
	for _, pkg := range packages {
		im.Set(pkg.Name, pkg.URL)
	}
	return im, nil
}

// ScanPackages returns the packages of the workspace sorted by directory.
func ScanPackages(rootDir string) ([]Package, error) {
	var root npm.PackageJSON
	err := utils.ParseJSONFile(filepath.Join(rootDir, "package.json"), &root)
	if err != nil {
		return nil, err
	}
	log.Infof("loading workspaces from: %s", rootDir)

	packages := []Package{}
	if root.Name != "" {
		packages = append(packages, newPackage(rootDir, rootDir, &root))
	}

	dirs := map[string]bool{}
	for _, pattern := range root.Workspaces {
		pattern = strings.TrimSuffix(strings.TrimPrefix(path.Clean(pattern), "./"), "/")
		matches, err := doublestar.Glob(os.DirFS(rootDir), pattern)
		if err != nil {
			log.Warnf("workspaces: invalid pattern '%s': %v", pattern, err)
			continue
		}
		for _, match := range matches {
			if match == "." || isInNodeModules(match) {
				continue
			}
			dir := filepath.Join(rootDir, filepath.FromSlash(match))
			if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
				dirs[dir] = true
			}
		}
	}

	sorted := make([]string, 0, len(dirs))
	for dir := range dirs {
		sorted = append(sorted, dir)
	}
	sort.Strings(sorted)

	for _, dir := range sorted {
		var pkg npm.PackageJSON
		err := utils.ParseJSONFile(filepath.Join(dir, "package.json"), &pkg)
		if err != nil {
			log.Debugf("workspaces: skip %s: %v", dir, err)
			continue
		}
		if pkg.Name == "" {
			log.Debugf("workspaces: skip %s: no package name", dir)
			continue
		}
		checkVersion(&root, &pkg)
		packages = append(packages, newPackage(rootDir, dir, &pkg))
	}
	return packages, nil
}

func newPackage(rootDir string, dir string, pkg *npm.PackageJSON) Package {
	entry := filepath.Join(dir, filepath.FromSlash(pkg.Entry()))
	rel, err := filepath.Rel(rootDir, entry)
	if err != nil {
		rel = entry
	}
	return Package{
		Name:  pkg.Name,
		Dir:   dir,
		Entry: entry,
		URL:   URLPrefix + path.Clean(filepath.ToSlash(rel)),
	}
}

// checkVersion warns when the root package depends on a version range of a workspace
// package that its actual version doesn't satisfy.
func checkVersion(root *npm.PackageJSON, pkg *npm.PackageJSON) {
	rng, ok := root.DependencyRange(pkg.Name)
	if !ok || pkg.Version == "" {
		return
	}
	rng = strings.TrimPrefix(rng, "workspace:")
	if rng == "*" || rng == "^" || rng == "~" || strings.Contains(rng, ":") {
		return
	}
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		log.Debugf("workspaces: invalid range '%s' of %s: %v", rng, pkg.Name, err)
		return
	}
	version, err := semver.NewVersion(pkg.Version)
	if err != nil {
		log.Debugf("workspaces: invalid version '%s' of %s: %v", pkg.Version, pkg.Name, err)
		return
	}
	if !constraint.Check(version) {
		log.Warnf("workspaces: %s@%s doesn't satisfy '%s' required by %s", pkg.Name, pkg.Version, rng, root.Name)
	}
}

func isInNodeModules(match string) bool {
	return match == "node_modules" || strings.HasPrefix(match, "node_modules/") || strings.Contains(match, "/node_modules/") || strings.HasSuffix(match, "/node_modules")
}
