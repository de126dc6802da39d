// Command swarmbot is the robot-side control core of a reinforcement
// learning swarm.
package main

import (
	"os"

	"github.com/Iron-Ham/swarmbot/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
