// Package main provides the entry point for the ferret-server CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/ferretbind/cmd/ferret-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
