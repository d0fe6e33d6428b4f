// Package cmd provides the command-line interface of procaccess.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "procaccess",
	Short: "procaccess flashes, controls and talks to simulated processors.",
	Long: `procaccess hosts simulated processors behind a line-delimited JSON ` +
		`control protocol and provides a client for it. Flag defaults can be ` +
		`set through the environment or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyEnv(cmd.Flags())
	},
}

// envFlags maps flags to the environment variables that supply their
// defaults.
var envFlags = map[string]string{
	"host":         "PROCACCESS_HOST",
	"port":         "PROCACCESS_PORT",
	"monitor-port": "PROCACCESS_MONITOR_PORT",
	"addr":         "PROCACCESS_ADDR",
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// applyEnv fills flags the user did not set from the environment.
func applyEnv(flags *pflag.FlagSet) error {
	for name, key := range envFlags {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}

		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		if err := f.Value.Set(value); err != nil {
			return fmt.Errorf("invalid %s=%s: %w", key, value, err)
		}
	}

	return nil
}
