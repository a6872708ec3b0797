package cli

import (
	"fmt"
	"os"

	"github.com/glromeo/esnext-web-modules/server"
)

const bundleHelpMessage = `Bundle packages, or package subpaths, into the web_modules directory.

Usage: web-modules bundle [...pathnames] [options]

Examples:
  web-modules bundle react react-dom
  web-modules bundle lodash/fp.js

Options:
  --help, -h   Show help message
`

// Bundle bundles the pathnames concurrently and prints their urls.
func Bundle() {
	args, help := parseCommandFlags()
	if help || len(args) == 0 {
		fmt.Print(bundleHelpMessage)
		return
	}

	wm, _ := setup()
	defer wm.Close()

	ctx, cancel := signalContext()
	defer cancel()

	tasks := make([]*server.BuildTask, 0, len(args))
	for _, pathname := range args {
		task, err := wm.Bundle(ctx, pathname)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		tasks = append(tasks, task)
	}

	failed := len(tasks) < len(args)
	for _, task := range tasks {
		if err := task.Wait(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", task.Pathname, err)
			failed = true
			continue
		}
		if meta := task.Meta(); meta != nil {
			fmt.Printf("%s -> %s (%d files in %v)\n", task.Pathname, task.URL, len(meta.Inputs), meta.Duration)
		} else {
			fmt.Printf("%s -> %s\n", task.Pathname, task.URL)
		}
	}
	if failed {
		wm.Close()
		os.Exit(1)
	}
}
