// Package main is the entry point for the hookrelay CLI.
package main

import (
	"fmt"
	"os"

	"github.com/bargom/hookrelay/cmd/hookrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
