// Package main provides the qtablectl command-line client.
package main

import (
	"fmt"
	"os"

	"github.com/danielpatrickdp/adaptive-state/qtable-service/cmd/qtablectl/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
