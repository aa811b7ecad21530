package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "axelar-watchtower",
		Short:         "Monitor an Axelar validator's signing, heartbeats and cross-chain votes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "path to config file (default ~/.axw/config.yml)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "override advanced.log_level (debug, info, warn, error)")
	return cmd
}

func resolveConfigPath(configFile string) (string, error) {
	if configFile != "" {
		return filepath.Abs(configFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".axw", "config.yml"), nil
}

// ensureDefaultConfig writes the embedded example config when path does not exist.
// It reports whether a file was written.
func ensureDefaultConfig(path string, example []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if len(example) == 0 {
		return false, fmt.Errorf("embedded config.example.yml is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, example, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
