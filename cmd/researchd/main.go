package main

import (
	"fmt"
	"os"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:           "researchd",
		Short:         "Multi-stage research assistant with streamed answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCMD(), askCMD(), tokenCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads .env files first so they can feed the environment
// overrides of the config file.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	return config.LoadConfig(path)
}
