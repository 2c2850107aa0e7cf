// The main package for the reportcrawler executable.
package main

import (
	"github.com/JakeFAU/research-report-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
