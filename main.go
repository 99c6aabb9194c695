// Package main is the entry point for the lswitch controller.
package main

import (
	"os"

	"firestige.xyz/lswitch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
