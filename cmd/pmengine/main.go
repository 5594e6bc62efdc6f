package main

import (
	"os"

	"github.com/solatis/pmengine/cmd/pmengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
