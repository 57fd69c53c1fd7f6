// Package main is the entry point for the karaforge application.
package main

import (
	"os"

	"github.com/karaforge/karaforge/cmd/karaforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
