//go:build windows

package main

import "os"

// shutdownSignals cancel the command context.
var shutdownSignals = []os.Signal{os.Interrupt}
