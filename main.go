// Package main is the entry point for the netsensor passive network sensor.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netsensor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
