package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/glromeo/esnext-web-modules/server"
	logx "github.com/ije/gox/log"
)

var (
	configFile = flag.String("config", "", "config file")
	rootDir    = flag.String("root", "", "root directory")
	debug      = flag.Bool("debug", false, "log debug messages")
)

type boolFlag interface {
	IsBoolFlag() bool
}

// parseCommandFlags parses the flags following the command, flags and arguments may be mixed.
func parseCommandFlags() (args []string, help bool) {
	flags := []string{}
	rawArgs := os.Args[2:]
	for i := 0; i < len(rawArgs); i++ {
		arg := rawArgs[i]
		if arg == "-h" || arg == "--help" || arg == "-help" {
			help = true
			continue
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			args = append(args, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if strings.ContainsRune(name, '=') {
			continue
		}
		// the value of a non-boolean flag may follow it
		if f := flag.Lookup(name); f != nil && i+1 < len(rawArgs) {
			if b, ok := f.Value.(boolFlag); !ok || !b.IsBoolFlag() {
				i++
				flags = append(flags, rawArgs[i])
			}
		}
	}
	flag.CommandLine.Parse(flags)
	return
}

// loadConfig loads the config file given by the `-config` flag, or the `web-modules.json` file
// of the root directory when it exists.
func loadConfig() (*server.Config, error) {
	filename := *configFile
	if filename == "" {
		dir := *rootDir
		if dir == "" {
			dir = "."
		}
		if fi, err := os.Stat(filepath.Join(dir, "web-modules.json")); err == nil && !fi.IsDir() {
			filename = filepath.Join(dir, "web-modules.json")
		}
	}
	if filename != "" {
		return server.LoadConfig(filename)
	}
	return server.DefaultConfig(*rootDir)
}

// initLogger creates the logger of the server, a buffered file logger when a log directory is configured.
func initLogger(config *server.Config) (*logx.Logger, error) {
	logger := &logx.Logger{}
	if config.LogDir != "" {
		err := os.MkdirAll(config.LogDir, 0755)
		if err != nil {
			return nil, err
		}
		logger, err = logx.New(fmt.Sprintf("file:%s?buffer=32k", filepath.Join(config.LogDir, "main.log")))
		if err != nil {
			return nil, fmt.Errorf("initiate logger: %w", err)
		}
	}
	if *debug {
		logger.SetLevelByName("debug")
	} else {
		logger.SetLevelByName(config.LogLevel)
	}
	server.SetLogger(logger)
	return logger, nil
}

// setup loads the config and creates the web modules of the root directory.
func setup() (*server.WebModules, *logx.Logger) {
	config, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	logger, err := initLogger(config)
	if err != nil {
		fatal(err)
	}
	wm, err := server.New(config)
	if err != nil {
		fatal(err)
	}
	return wm, logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
