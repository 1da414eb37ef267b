package main

import (
	"os"

	"github.com/asaidimu/go-loom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
