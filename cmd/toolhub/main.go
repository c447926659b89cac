// Command toolhub serves the reasoning and browser automation tool-sets over
// JSON-RPC.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
