package main

import (
	"os"

	"github.com/gjvnq/ftp-scan/cmd/ftpscan/commands"
)

func main() {
	if err := commands.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
