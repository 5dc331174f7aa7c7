// Command fetchgraph compiles fetch plans for GraphQL selections against
// entity metadata described in annotated SDL.
//
// Usage:
//
//	fetchgraph [flags] <command>
//
// Commands:
//   - plan: print the fetch paths for a query
//   - validate: check the metadata SDL and list its types
//   - serve: run the HTTP planning endpoint with Prometheus metrics
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
