package main

import (
	"os"

	"github.com/mvdbeek/gravity/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
