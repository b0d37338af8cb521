package main

import (
	"github.com/robotalks/rtcsync/pkg/cli/sh"
	"github.com/robotalks/rtcsync/pkg/timesync"
)

//go-build: CGO_ENABLED=0

func init() {
	timesync.SetupFlags()
	sh.SetupFlags()
}

func main() {
	sh.Main()
}
