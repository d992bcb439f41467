// Package main is the csvchat command.
package main

import (
	"os"

	"github.com/leapstack-labs/csvchat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
