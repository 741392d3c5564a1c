//go:build ignore

package main

import (
	"log"
	"os"

	"github.com/go-delve/jobctl/cmd/jobctl/cmds"
	"github.com/spf13/cobra/doc"
)

const defaultUsageDir = "./Documentation/usage"

func main() {
	usageDir := defaultUsageDir
	if len(os.Args) > 1 {
		usageDir = os.Args[1]
	}
	if err := os.MkdirAll(usageDir, 0755); err != nil {
		log.Fatalf("could not create %s: %v", usageDir, err)
	}
	if err := doc.GenMarkdownTree(cmds.New(true), usageDir); err != nil {
		log.Fatalf("generating usage docs: %v", err)
	}
}
