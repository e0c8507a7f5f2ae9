package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"support-widget-server/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "widget-server",
	Short: "Backend for the embeddable support chat widget",
	Long: `widget-server serves the support widget page, the public contact
session and conversation API, the operator users API and the realtime
websocket. Running it without a subcommand is the same as "serve".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "config file path (or WIDGET_CONFIG)")

	rootCmd.AddCommand(serveCmd, migrateCmd, signCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flag := cmd.Flags().Lookup("config")
	path := config.ResolvePath(flag.Value.String(), flag.Changed)
	return config.LoadEffective(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
