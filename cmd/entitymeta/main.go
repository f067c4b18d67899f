package main

import (
	"fmt"
	"os"

	"portal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "entitymeta:", err)
		os.Exit(1)
	}
}
