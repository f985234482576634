package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/agents/azure"
	"github.com/montycloud/moya/internal/agents/bedrock"
	"github.com/montycloud/moya/internal/agents/gemini"
	"github.com/montycloud/moya/internal/agents/lambda"
	"github.com/montycloud/moya/internal/agents/ollama"
	"github.com/montycloud/moya/internal/agents/openai"
	"github.com/montycloud/moya/internal/agents/remote"
	"github.com/montycloud/moya/internal/memory"
	"github.com/montycloud/moya/internal/orchestrator"
	"github.com/montycloud/moya/internal/tools"
	"github.com/montycloud/moya/pkg/config"
)

// buildRepository istanzia il backend di memoria configurato. La
// funzione di chiusura rilascia le connessioni.
func buildRepository(ctx context.Context, cfg *config.Config) (memory.Repository, func(), error) {
	switch cfg.Memory.Backend {
	case "inmemory":
		return memory.NewInMemoryRepository(), func() {}, nil

	case "redis":
		repo, err := memory.NewRedisRepository(ctx, memory.RedisConfig{
			Addr:      cfg.Memory.Redis.Addr,
			Password:  cfg.Memory.Redis.Password,
			DB:        cfg.Memory.Redis.DB,
			KeyPrefix: cfg.Memory.Redis.KeyPrefix,
			TTL:       cfg.Memory.Redis.TTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis repository: %w", err)
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Warn().Err(err).Msg("chiusura redis fallita")
			}
		}, nil

	case "database":
		repo, err := memory.NewDatabaseRepository(memory.DatabaseConfig{
			Type:       cfg.Memory.Database.Type,
			Connection: cfg.Memory.Database.Connection,
			MaxConns:   cfg.Memory.Database.MaxConns,
			LogLevel:   cfg.Memory.Database.LogLevel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("database repository: %w", err)
		}
		return repo, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}

// buildAgents istanzia gli agenti configurati e li registra.
func buildAgents(ctx context.Context, cfg *config.Config, repo memory.Repository) (*agents.Registry, error) {
	toolReg := tools.NewRegistry()
	if err := tools.RegisterMemoryTools(toolReg, repo); err != nil {
		return nil, err
	}

	reg := agents.NewRegistry()
	for _, ac := range cfg.Agents {
		agent, err := buildAgent(ctx, ac, toolReg)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", ac.Name, err)
		}
		if err := reg.Register(agent); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildAgent(ctx context.Context, ac config.AgentConfig, toolReg *tools.Registry) (agents.Agent, error) {
	base := agents.Config{
		Name:         ac.Name,
		Type:         ac.Type,
		Description:  ac.Description,
		SystemPrompt: ac.SystemPrompt,
		Model:        ac.Model,
		Temperature:  ac.Temperature,
		MaxTokens:    ac.MaxTokens,
		Timeout:      ac.Timeout,
		RateLimit:    ac.RateLimit,
	}

	switch ac.Type {
	case "openai":
		return openai.New(base, openai.Options{BaseURL: ac.BaseURL, APIKey: ac.APIKey}, toolReg)
	case "azure":
		return azure.New(base, azure.Options{
			Endpoint:   ac.Endpoint,
			APIKey:     ac.APIKey,
			Deployment: ac.Deployment,
			APIVersion: ac.APIVersion,
		}, toolReg)
	case "ollama":
		return ollama.New(base, ollama.Options{BaseURL: ac.BaseURL}, toolReg)
	case "bedrock":
		return bedrock.New(ctx, base, bedrock.Options{Region: ac.Region}, toolReg)
	case "lambda":
		return lambda.New(ctx, base, lambda.Options{FunctionName: ac.Function, Region: ac.Region}, toolReg)
	case "remote":
		return remote.New(base, remote.Options{BaseURL: ac.BaseURL, AuthToken: ac.AuthToken}, toolReg)
	case "gemini":
		return gemini.New(base, gemini.Options{BaseURL: ac.BaseURL, APIKey: ac.APIKey}, toolReg)
	default:
		return nil, fmt.Errorf("unknown agent type %q", ac.Type)
	}
}

// buildOrchestrator istanzia l'orchestratore configurato.
func buildOrchestrator(cfg *config.Config, reg *agents.Registry, repo memory.Repository) (orchestrator.Orchestrator, error) {
	oc := cfg.Orchestrator

	switch oc.Mode {
	case "simple":
		name := oc.DefaultAgent
		if name == "" {
			names := reg.Names()
			if len(names) != 1 {
				return nil, fmt.Errorf("simple mode needs default_agent when more than one agent is defined")
			}
			name = names[0]
		}
		return orchestrator.NewSimple(reg, repo, name,
			orchestrator.WithSimpleContextWindow(oc.ContextWindow))

	case "keyword":
		classifier := &orchestrator.KeywordClassifier{
			Keywords: oc.Keywords,
			Default:  oc.DefaultAgent,
		}
		return orchestrator.NewMultiAgent(reg, repo, classifier,
			orchestrator.WithContextWindow(oc.ContextWindow),
			orchestrator.WithFallbackAgent(oc.DefaultAgent),
		), nil

	case "llm":
		selectorName := oc.Classifier
		if selectorName == "" {
			selectorName = oc.DefaultAgent
		}
		selector, ok := reg.Get(selectorName)
		if !ok {
			return nil, fmt.Errorf("classifier agent %q not registered", selectorName)
		}
		classifier := orchestrator.NewLLMClassifier(selector, oc.DefaultAgent)
		return orchestrator.NewMultiAgent(reg, repo, classifier,
			orchestrator.WithContextWindow(oc.ContextWindow),
			orchestrator.WithFallbackAgent(oc.DefaultAgent),
		), nil

	default:
		return nil, fmt.Errorf("unknown orchestrator mode %q", oc.Mode)
	}
}
