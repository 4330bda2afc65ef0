package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trendsched/internal/app"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "trendsched",
	Short:         "Cron scheduler for the trending refresh and newsletter jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = app.Version
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	rootCmd.AddCommand(serveCmd, validateCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
