package main

import (
	"os"

	"repo-backup/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
