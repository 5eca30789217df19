//go:build ignore
// +build ignore

package main

import (
	"log"

	"github.com/spf13/cobra/doc"

	"github.com/elfscope/elfscope/cmd/elfscope/cmds"
)

func main() {
	err := doc.GenMarkdownTree(cmds.New(true), "./Documentation/usage")
	if err != nil {
		log.Fatal(err)
	}
}
