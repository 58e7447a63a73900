// ./main.go
package main

import (
	"github.com/sec-bihar/candidate-crawler/cmd"
)

// main is the entry point for the seccrawl CLI.
func main() {
	// Execute the root command defined in the cmd package. It handles all
	// command-line parsing, configuration, and execution.
	cmd.Execute()
}
