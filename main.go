// The main package for the feedingest executable.
package main

import (
	"github.com/JakeFAU/feed-ingestor/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
