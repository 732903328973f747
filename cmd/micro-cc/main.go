package main

import (
	"os"

	"github.com/georgesalapa/micro-cc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
