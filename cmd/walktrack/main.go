// ABOUTME: Entry point for the walktrack CLI
// ABOUTME: Executes the root command and maps errors to a non-zero exit

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}
