package cli

import (
	"fmt"
	"os"
)

const cleanHelpMessage = `Remove the web_modules directory, the import map and the build meta included.

Usage: web-modules clean [options]

Options:
  --help, -h   Show help message
`

// Clean removes the web_modules directory.
func Clean() {
	_, help := parseCommandFlags()
	if help {
		fmt.Print(cleanHelpMessage)
		return
	}

	config, err := loadConfig()
	if err != nil {
		fatal(err)
	}
	outDir := config.OutDir()
	if err = os.RemoveAll(outDir); err != nil {
		fatal(err)
	}
	fmt.Println("removed", outDir)
}
