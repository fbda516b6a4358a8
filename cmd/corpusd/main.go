// Corpusd keeps a vector collection synchronized with a document directory
// and serves similarity search over it.
//
// Usage:
//
//	# Run the sync daemon: initial scan, then watch for changes
//	corpusd serve
//
//	# One-shot retrieval against the indexed collection
//	corpusd search "how do I rotate credentials"
//
// Configuration is loaded from corpusd.yaml and CORPUSD_* environment
// variables. See internal/config for details.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "corpusd",
	Short: "Incremental knowledge-base sync and retrieval daemon",
	Long: `corpusd watches a directory of documents, keeps their chunks embedded
and indexed in a vector store, and answers similarity queries.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("corpusd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default corpusd.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
