// parlanced is the call bridge daemon: it terminates carrier media
// streams, drives the conversational model with the turn controller,
// streams synthesized speech back to the caller, and finalizes
// completed calls into records and archived transcripts.
//
// Usage:
//
//	parlanced serve -c /etc/parlance/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/parlancehq/parlance/cmd/parlanced/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
