// Command agentcored runs a single agent core as a long-lived service:
// it loads a TOML config file, wires a kernel with one storage backend and
// one provider, and serves inbound platform messages until terminated.
package main

import "github.com/Agent-Zoey/Zoey-sub001/cmd/agentcored/cmd"

func main() {
	cmd.Execute()
}
