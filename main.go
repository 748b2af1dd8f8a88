package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/majestrate/swarmwatch/cmd/rpc"
	"github.com/majestrate/swarmwatch/cmd/swarmwatch"
)

func main() {
	exename := strings.ToUpper(filepath.Base(os.Args[0]))
	docli := exename == "SWARMWATCH-CLI" || exename == "SWARMWATCH-CLI.EXE"
	if docli {
		rpc.Run()
	} else {
		swarmwatch.Run()
	}
}
