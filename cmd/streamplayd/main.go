// Package main is the entry point for streamplayd.
package main

import (
	"os"

	"github.com/streamplay/streamplay/cmd/streamplayd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
