package main

import (
	"os"

	"llmd/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
