// Package main provides the entry point for the Storm CRM contact intake service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	storeDriver string
)

var rootCmd = &cobra.Command{
	Use:           "storm_crm",
	Short:         "Storm CRM contact intake service",
	Long:          "Storm CRM ingests contacts atomically with a full audit trail and serves them over a REST API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Store driver: postgres or memory (overrides STORE_DRIVER)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
