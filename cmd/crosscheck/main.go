package main

import (
	"os"

	"github.com/crosscheck-systems/crosscheck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
