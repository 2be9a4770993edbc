package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	releaseVersion = "0.1.0"
)

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".tnd"
	}
	return filepath.Join(dir, "tnd")
}

func main() {
	log.SetFlags(0)
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
