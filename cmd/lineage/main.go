// Package main is the entry point for the lineage binary.
package main

import (
	"os"

	"github.com/thefarmersfront/datahub/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
