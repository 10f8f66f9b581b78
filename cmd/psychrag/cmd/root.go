// Package cmd provides the CLI commands for psychrag.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/DominikGorecki/psychrag-sub002/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the psychrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "psychrag",
		Short: "RAG query-pipeline server for academic works",
		Long: `psychrag serves the query pipeline over ingested academic works:
query expansion, hybrid dense + lexical retrieval with reranking,
evidence consolidation, and prompt-augmented answering.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("psychrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to psychrag.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
