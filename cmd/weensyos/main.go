// Command weensyos boots the WeensyOS kernel on a simulated machine and
// shows how its processes share physical memory.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
