// Package main provides repurposectl, a command-line client for the
// repurposing service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "repurposectl",
	Short: "Submit and follow video repurposing workflows",
	Long: `repurposectl talks to a running repurposing service, or with "run" executes a
workflow in-process without one.`,
	SilenceUsage: true,
}

func init() {
	def := os.Getenv("REPURPOSE_SERVER")
	if def == "" {
		def = "http://localhost:7070"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", def, "Service base URL (defaults to REPURPOSE_SERVER)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
