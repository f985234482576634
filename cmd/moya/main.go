package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/montycloud/moya/cmd/moya/commands"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "moya",
		Short: "Moya - Multi-agent LLM orchestration",
		Long: `Moya - Multi-agent LLM orchestration toolkit

Runs a fleet of LLM agents behind a single API, routing each message
to the right agent and keeping per-thread conversation memory.

Features:
  • Agents for OpenAI, Azure OpenAI, Ollama, Bedrock, Lambda, Gemini and remote peers
  • Keyword or LLM-based message classification
  • Conversation memory on in-process, Redis or SQL backends
  • Per-agent rate limiting and health tracking
  • Prometheus metrics and structured logging`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ChatCmd)
	rootCmd.AddCommand(commands.AgentsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Moya version %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
