// Command apkdb manages the APK package database of a root filesystem.
package main

import (
	"os"

	"github.com/kilupskalvis/apkdb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
