package tools

import (
	"context"
	"fmt"

	"github.com/montycloud/moya/internal/conversation"
	"github.com/montycloud/moya/internal/memory"
)

// RegisterMemoryTools registra i tool di memoria conversazionale
// sopra il repository dato. Gli agenti li usano per leggere e
// scrivere i thread durante l'elaborazione.
func RegisterMemoryTools(reg *Registry, repo memory.Repository) error {
	storeTool := Tool{
		Name:        "store_message",
		Description: "Store a message in a conversation thread.",
		Parameters: map[string]Parameter{
			"thread_id": {Type: "string", Description: "Identifier of the conversation thread.", Required: true},
			"sender":    {Type: "string", Description: "Name of the message sender.", Required: true},
			"content":   {Type: "string", Description: "Message content to store.", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			threadID, err := stringArg(args, "thread_id")
			if err != nil {
				return nil, err
			}
			sender, err := stringArg(args, "sender")
			if err != nil {
				return nil, err
			}
			content, err := stringArg(args, "content")
			if err != nil {
				return nil, err
			}
			msg := conversation.NewMessage(threadID, sender, content, nil)
			if err := repo.AppendMessage(ctx, msg); err != nil {
				return nil, err
			}
			return "Message stored.", nil
		},
	}

	lastNTool := Tool{
		Name:        "get_last_n_messages",
		Description: "Retrieve the last N messages of a conversation thread.",
		Parameters: map[string]Parameter{
			"thread_id": {Type: "string", Description: "Identifier of the conversation thread.", Required: true},
			"n":         {Type: "integer", Description: "Number of messages to retrieve.", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			threadID, err := stringArg(args, "thread_id")
			if err != nil {
				return nil, err
			}
			n := intArg(args, "n", 5)
			return repo.GetLastNMessages(ctx, threadID, n)
		},
	}

	summaryTool := Tool{
		Name:        "get_thread_summary",
		Description: "Produce a textual summary of a conversation thread.",
		Parameters: map[string]Parameter{
			"thread_id": {Type: "string", Description: "Identifier of the conversation thread.", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			threadID, err := stringArg(args, "thread_id")
			if err != nil {
				return nil, err
			}
			return repo.GetThreadSummary(ctx, threadID)
		},
	}

	for _, t := range []Tool{storeTool, lastNTool, summaryTool} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return s, nil
}

// intArg tollera sia int che float64, dato che gli argomenti arrivano
// spesso da JSON decodificato.
func intArg(args map[string]any, name string, fallback int) int {
	v, ok := args[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
