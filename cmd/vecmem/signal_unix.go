//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals cancel the command context. Long imports and the server
// both stop cleanly on any of them.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
