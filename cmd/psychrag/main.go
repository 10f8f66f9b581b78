// Package main provides the entry point for the psychrag server CLI.
package main

import (
	"os"

	"github.com/DominikGorecki/psychrag-sub002/cmd/psychrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
