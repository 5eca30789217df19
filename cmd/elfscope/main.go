package main

import (
	"os"

	"github.com/elfscope/elfscope/cmd/elfscope/cmds"
)

func main() {
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
