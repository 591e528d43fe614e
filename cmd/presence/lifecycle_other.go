//go:build !unix

package main

import "os"

var lifecycleSignals []os.Signal

func isBackground(os.Signal) bool {
	return false
}
