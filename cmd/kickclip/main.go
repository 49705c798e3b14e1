package main

import (
	"fmt"
	"os"

	"github.com/damian-maker/IA-KICK/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
