package main

import (
	"os"

	"github.com/davidschrooten/searchsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
