package main

import (
	"os"

	"github.com/remram44/taguette/internal/cli"

	_ "github.com/tliron/commonlog/simple"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

func main() {
	if err := cli.NewRootCmd(Version).Execute(); err != nil {
		os.Exit(1)
	}
}
