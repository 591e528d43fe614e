//go:build unix

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 sends the client to the background, SIGUSR2 brings it back.
var lifecycleSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}

func isBackground(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
