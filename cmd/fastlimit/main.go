package main

import (
	"os"

	"github.com/ryhazerus/fastlimit/internal/cmd"
)

// Set via ldflags, e.g. -ldflags="-X main.version=1.0.0 -X main.commit=abc123".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit)
	os.Exit(cmd.Execute())
}
