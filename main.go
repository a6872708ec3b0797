package main

import (
	"github.com/glromeo/esnext-web-modules/cli"
)

func main() {
	cli.Run()
}
