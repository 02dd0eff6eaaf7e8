package main

import (
	"os"

	"github.com/conneroisu/vista/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
