package server

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/glromeo/esnext-web-modules/internal/npm"
	"github.com/goccy/go-json"
)

// Config represents the configuration of the web modules of a root directory.
type Config struct {
	RootDir               string            `json:"rootDir"`
	ModuleDirectories     []string          `json:"moduleDirectories"`
	Extensions            []string          `json:"extensions"`
	Squash                []string          `json:"squash"`
	External              []string          `json:"external"`
	Fakes                 map[string]string `json:"fakes"`
	ESMShims              map[string]string `json:"esmShims"`
	NodeEnv               string            `json:"nodeEnv"`
	Clean                 bool              `json:"clean"`
	BuildConcurrency      uint16            `json:"buildConcurrency"`
	DisableRuntimeExports bool              `json:"disableRuntimeExports"`
	Mirror                string            `json:"mirror"`
	MetaDB                string            `json:"metaDB"`
	LogDir                string            `json:"logDir"`
	LogLevel              string            `json:"logLevel"`
	Port                  uint16            `json:"port"`
	MinifyRaw             json.RawMessage   `json:"minify"`
	SourceMapRaw          json.RawMessage   `json:"sourceMap"`
	Minify                bool              `json:"-"`
	SourceMap             bool              `json:"-"`
}

// OutDir returns the directory of the bundled web modules.
func (c *Config) OutDir() string {
	return filepath.Join(c.RootDir, "web_modules")
}

var defaultESMShims = map[string]string{
	"redux-toolkit.esm.js": "export * from \"redux\";\n",
}

// LoadConfig loads config from the given file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("fail to read config file: %w", err)
	}
	defer file.Close()

	var config Config
	err = json.NewDecoder(file).Decode(&config)
	if err != nil {
		return nil, fmt.Errorf("fail to parse config: %w", err)
	}
	// the root directory is relative to the config file
	if config.RootDir != "" && !filepath.IsAbs(config.RootDir) {
		config.RootDir = filepath.Join(filepath.Dir(filename), config.RootDir)
	} else if config.RootDir == "" && os.Getenv("WEB_MODULES_ROOT") == "" {
		config.RootDir = filepath.Dir(filename)
	}
	err = normalizeConfig(&config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig returns the config of the given root directory, the current directory if empty.
func DefaultConfig(rootDir string) (*Config, error) {
	config := &Config{RootDir: rootDir}
	err := normalizeConfig(config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

func normalizeConfig(config *Config) (err error) {
	if config.RootDir == "" {
		config.RootDir = os.Getenv("WEB_MODULES_ROOT")
	}
	if config.RootDir == "" {
		config.RootDir = "."
	}
	config.RootDir, err = filepath.Abs(config.RootDir)
	if err != nil {
		return fmt.Errorf("fail to get absolute path of the root directory: %w", err)
	}
	if len(config.ModuleDirectories) == 0 {
		config.ModuleDirectories = []string{filepath.Join(config.RootDir, "node_modules")}
	}
	for i, dir := range config.ModuleDirectories {
		if !filepath.IsAbs(dir) {
			config.ModuleDirectories[i] = filepath.Join(config.RootDir, dir)
		}
	}
	if len(config.Extensions) == 0 {
		config.Extensions = append([]string{}, npm.DefaultExtensions...)
	}
	for i, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			config.Extensions[i] = "." + ext
		}
	}
	if config.Squash == nil {
		config.Squash = []string{"@babel/runtime/**"}
	}
	if config.ESMShims == nil {
		config.ESMShims = make(map[string]string, len(defaultESMShims))
		for name, source := range defaultESMShims {
			config.ESMShims[name] = source
		}
	}
	if config.NodeEnv == "" {
		config.NodeEnv = os.Getenv("NODE_ENV")
		if config.NodeEnv == "" {
			config.NodeEnv = "development"
		}
	}
	if config.BuildConcurrency == 0 {
		config.BuildConcurrency = uint16(runtime.NumCPU())
		if v := os.Getenv("WEB_MODULES_BUILD_CONCURRENCY"); v != "" {
			if n, e := strconv.Atoi(v); e == nil && n > 0 && n < 1<<16 {
				config.BuildConcurrency = uint16(n)
			}
		}
	}
	if config.Mirror == "" {
		config.Mirror = os.Getenv("WEB_MODULES_MIRROR")
	}
	if config.MetaDB == "" {
		config.MetaDB = "postdb:" + filepath.Join(config.OutDir(), ".meta.db")
	}
	if config.LogLevel == "" {
		config.LogLevel = os.Getenv("WEB_MODULES_LOG_LEVEL")
		if config.LogLevel == "" {
			config.LogLevel = "info"
		}
	}
	if config.LogDir != "" && !filepath.IsAbs(config.LogDir) {
		config.LogDir = filepath.Join(config.RootDir, config.LogDir)
	}
	if config.Port == 0 {
		config.Port = 8080
		if v := os.Getenv("WEB_MODULES_PORT"); v != "" {
			if p, e := strconv.Atoi(v); e == nil && p > 0 && p < 65536 {
				config.Port = uint16(p)
			}
		}
	}
	config.Minify = bytes.Equal(config.MinifyRaw, []byte("true")) || os.Getenv("WEB_MODULES_MINIFY") == "true"
	config.SourceMap = !(config.Minify || bytes.Equal(config.SourceMapRaw, []byte("false")))
	return nil
}
