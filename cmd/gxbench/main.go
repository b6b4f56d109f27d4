// Command gxbench records compute work from many goroutines per frame and
// reports how the context pool, descriptor heaps and queues hold up.
package main

import (
	"os"

	"github.com/gogpu/gx/cmd/gxbench/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
