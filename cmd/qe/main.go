// Package main is the entry point for the qe CLI binary.
package main

import (
	"os"

	"query-enhancements/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
