package main

import (
	"os"

	"github.com/psantana5/fluentd-launcher/cmd/fluentd-launcher/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
