package main

import (
	"os"

	"github.com/floworc/floworc/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
