// skein is the chat orchestration server and its operator CLI.
//
// Commands:
//
//	serve     Run the chat API server
//	models    List the models a config directory registers
//	usage     Show recorded token usage per chat
//	version   Show version information
//
// Usage:
//
//	skein serve --config skein.yaml
//	skein usage --db ./data/ledger
package main

import (
	"fmt"
	"os"

	"github.com/skeinworks/skein/cmd/skein/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
