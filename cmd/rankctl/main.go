package main

import (
	"fmt"
	"os"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/command"
)

// Version 建置時以 -ldflags 覆蓋
var Version = "dev"

func main() {
	if err := command.NewRootCmd(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
