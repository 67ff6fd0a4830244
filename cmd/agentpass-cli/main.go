package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/agentpass/agentpass/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	flag.Parse()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
