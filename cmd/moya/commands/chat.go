package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/montycloud/moya/pkg/config"
	"github.com/montycloud/moya/pkg/logging"
)

var (
	chatThreadID string
	chatStream   bool
)

// ChatCmd apre una REPL che parla con gli agenti configurati.
var ChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the configured agents from the terminal",
	Long: `Open an interactive prompt that sends each line through the
orchestrator, exactly like a request to the HTTP API would.`,
	Example: `  # Interactive chat with streaming replies
  moya chat

  # Resume an existing conversation thread
  moya chat --thread 2f6c01f4`,
	RunE: runChat,
}

func init() {
	ChatCmd.Flags().StringVar(&chatThreadID, "thread", "", "Thread ID to resume (default: new thread)")
	ChatCmd.Flags().BoolVar(&chatStream, "stream", true, "Stream replies as they are generated")
}

func runChat(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// La REPL scrive su stdout, i log vanno tenuti fuori dai piedi.
	logging.Setup("error", "console")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	reg, err := buildAgents(ctx, cfg, repo)
	if err != nil {
		return err
	}
	orch, err := buildOrchestrator(cfg, reg, repo)
	if err != nil {
		return err
	}

	threadID := chatThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	fmt.Printf("Thread %s. Type a message, or /quit to exit.\n", threadID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if chatStream {
			_, err = orch.OrchestrateStream(ctx, threadID, line, func(chunk string) error {
				fmt.Print(chunk)
				return nil
			})
			fmt.Println()
		} else {
			var reply string
			reply, err = orch.Orchestrate(ctx, threadID, line)
			if err == nil {
				fmt.Println(reply)
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}
