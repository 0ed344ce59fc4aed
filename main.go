package main

import (
	"os"

	"github.com/theapemachine/nire/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
