//go:build !test

// Code coverage for main is ignored; the command tree is tested in internal/commands.
package main

import (
	"os"

	"github.com/jbweber/homelab/placer/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
