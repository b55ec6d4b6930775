// Command actiongate runs the action gateway CLI: serve its MCP front end,
// submit a one-off action for evaluation, or administer policies and the
// audit trail.
package main

import "github.com/Tobbiloba/actiongate/cmd/actiongate/cmd"

func main() {
	cmd.Execute()
}
