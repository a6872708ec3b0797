package cli

import (
	"fmt"

	"github.com/glromeo/esnext-web-modules/internal/workspace"
)

const scanHelpMessage = `Print the import map of the packages of the workspace.

Usage: web-modules scan [options]

Options:
  --help, -h   Show help message
`

// Scan prints the import map of the workspace packages.
func Scan() {
	_, help := parseCommandFlags()
	if help {
		fmt.Print(scanHelpMessage)
		return
	}

	config, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	if _, err = initLogger(config); err != nil {
		fatal(err)
	}
	im, err := workspace.Scan(config.RootDir)
	if err != nil {
		fatal(err)
	}
	fmt.Println(im.FormatJSON(2))
}
