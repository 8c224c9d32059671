// Package main provides the moenchctl CLI entry point.
//
// moenchctl brings up the MOENCH detector backend, sequences acquisitions
// against it and observes the frame stream it publishes.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/moenchctl
var version = "dev"

func main() {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
