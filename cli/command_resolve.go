package cli

import (
	"flag"
	"fmt"
	"os"
)

const resolveHelpMessage = `Resolve the specifiers imported by a browser module, bundling the packages on demand.

Usage: web-modules resolve [...specifiers] [options]

Examples:
  web-modules resolve react react-dom/client
  web-modules resolve ./app -basedir /src

Options:
  -basedir     Root-relative directory of the importing module
  --help, -h   Show help message
`

// Resolve prints the url of every specifier.
func Resolve() {
	basedir := flag.String("basedir", "", "root-relative directory of the importing module")
	args, help := parseCommandFlags()
	if help || len(args) == 0 {
		fmt.Print(resolveHelpMessage)
		return
	}

	wm, _ := setup()
	defer wm.Close()

	ctx, cancel := signalContext()
	defer cancel()

	failed := false
	for _, spec := range args {
		url, err := wm.ResolveImport(ctx, spec, *basedir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", spec, err)
			failed = true
			continue
		}
		fmt.Println(url)
	}
	if failed {
		wm.Close()
		os.Exit(1)
	}
}
