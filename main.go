// The main package for the generate-target-matrix executable.
package main

import (
	"os"

	"github.com/n0n1m/amneziawg-openwrt/cmd"
)

// main defers all execution to the Cobra command and exits with its code.
func main() {
	os.Exit(cmd.Execute())
}
