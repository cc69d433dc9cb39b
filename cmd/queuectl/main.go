// Package main is the operator CLI for the translation queue.
package main

import (
	"fmt"
	"os"

	"github.com/kiranshivaraju/booktranslator/cmd/queuectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
