package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glromeo/esnext-web-modules/server"
	logx "github.com/ije/gox/log"
)

const serveHelpMessage = `Serve the resolve api and the bundled web modules.

Usage: web-modules serve [options]

Routes:
  /-/resolve?url=<specifier>&basedir=<dir>   Resolve a specifier
  /-/import-map.json                         The import map
  /-/builds/<pathname>                       The build meta of a web module
  /web_modules/<file>                        The bundled web modules

Options:
  -port        Port to serve on, default is 8080
  --help, -h   Show help message
`

// Serve serves the resolve api.
func Serve() {
	port := flag.Int("port", 0, "port to serve on")
	_, help := parseCommandFlags()
	if help {
		fmt.Print(serveHelpMessage)
		return
	}

	wm, logger := setup()
	if *port > 0 {
		wm.Config().Port = uint16(*port)
	}

	accessLogger := &logx.Logger{}
	if logDir := wm.Config().LogDir; logDir != "" {
		var err error
		accessLogger, err = logx.New(fmt.Sprintf("file:%s?buffer=32k", filepath.Join(logDir, "access.log")))
		if err != nil {
			logger.Fatalf("initiate access logger: %v", err)
		}
		accessLogger.SetQuite(true)
	}

	fmt.Fprintf(os.Stderr, "Server is ready on http://localhost:%d\n", wm.Config().Port)
	server.Serve(wm, accessLogger)
}
