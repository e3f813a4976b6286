// Command micvad captures audio from a microphone and reports voice activity.
//
// Usage:
//
//	micvad [flags] <command>
//
// Commands:
//
//	run       - Capture and classify until interrupted
//	validate  - Check a configuration file and print the effective settings
//	devices   - List capture devices known to PortAudio
//	version   - Print version information
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/micvad/cmd/micvad/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "micvad:", err)
		os.Exit(1)
	}
}
