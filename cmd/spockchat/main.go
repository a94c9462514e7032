package main

import (
	"os"

	"spockchat/cmd/spockchat/serve"
	"spockchat/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	logger.Init()
	rootCmd := &cobra.Command{
		Use:   "spockchat",
		Short: "SpockChat bridges chat turns between an LLM backend and MCP tool servers",
	}

	rootCmd.AddCommand(serve.Cmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
