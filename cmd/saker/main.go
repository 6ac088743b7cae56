package main

import (
	"fmt"
	"os"

	"github.com/mika/saker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "saker: %v\n", err)
		os.Exit(1)
	}
}
