// Package main is the entry point for the superdash aggregator.
package main

import (
	"os"

	"github.com/superdash/superdash/cmd/superdash/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
