// Command settingsync keeps a configuration directory in sync across machines.
package main

import "github.com/bolasblack/settingsync/internal/cli"

func main() {
	cli.Execute()
}
