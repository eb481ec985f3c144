package main

import (
	"os"

	"github.com/leftmike/relbox/cmd"
)

func main() {
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
