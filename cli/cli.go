package cli

import (
	"fmt"
	"os"

	"github.com/glromeo/esnext-web-modules/server"
)

const helpMessage = "\033[30mweb-modules - bundles the npm packages imported by browser modules on demand.\033[0m" + `

Usage: web-modules [command] [options]

Commands:
  resolve [...specifiers]   Resolve the specifiers to the urls of their web modules
  bundle [...pathnames]     Bundle packages (or package subpaths) into the web_modules directory
  scan                      Print the import map of the workspace packages
  serve                     Serve the resolve api and the web_modules directory
  clean                     Remove the web_modules directory
  version                   Show the version

Options:
  -config       Config file, default is "web-modules.json" in the root directory
  -root         Root directory, default is the current directory
  -debug        Log debug messages
  --version, -v Show the version
  --help, -h    Display this help message
`

// Run runs the command line.
func Run() {
	if len(os.Args) < 2 {
		fmt.Print(helpMessage)
		return
	}
	switch command := os.Args[1]; command {
	case "resolve":
		Resolve()
	case "bundle":
		Bundle()
	case "scan":
		Scan()
	case "serve":
		Serve()
	case "clean":
		Clean()
	case "version":
		fmt.Println("web-modules " + server.VERSION)
	default:
		for _, arg := range os.Args[1:] {
			if arg == "--version" {
				fmt.Println("web-modules " + server.VERSION)
				return
			}
			if arg == "-v" {
				fmt.Println(server.VERSION)
				return
			}
		}
		fmt.Print(helpMessage)
	}
}
