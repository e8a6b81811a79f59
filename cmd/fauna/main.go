package main

import (
	"os"

	"github.com/fauna/fauna-cli/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
