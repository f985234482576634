package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/tools"
)

var ErrEmptyResponse = errors.New("empty model response")

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 1024
)

// runtimeAPI copre le chiamate Bedrock usate dall'agente, cosi' i
// test possono iniettare un finto client.
type runtimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Options configura l'agente Bedrock.
type Options struct {
	Region string
}

// Agent invoca modelli Anthropic su Amazon Bedrock.
type Agent struct {
	*agents.Base
	opts    Options
	runtime runtimeAPI
}

func New(ctx context.Context, cfg agents.Config, opts Options, reg *tools.Registry) (*Agent, error) {
	base, err := agents.NewBase(cfg, reg)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent %q: load AWS config: %w", cfg.Name, err)
	}

	return &Agent{
		Base:    base,
		opts:    opts,
		runtime: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient costruisce l'agente con un runtime gia' pronto.
func NewWithClient(cfg agents.Config, client runtimeAPI, reg *tools.Registry) (*Agent, error) {
	base, err := agents.NewBase(cfg, reg)
	if err != nil {
		return nil, err
	}
	return &Agent{Base: base, runtime: client}, nil
}

func (a *Agent) Setup(context.Context) error { return nil }

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		body, err := json.Marshal(a.buildRequest(message))
		if err != nil {
			return "", fmt.Errorf("failed to marshal request: %w", err)
		}

		out, err := a.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(a.Config().Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return "", fmt.Errorf("invoke model: %w", err)
		}

		var resp invokeResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return "", fmt.Errorf("decode model response: %w", err)
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", ErrEmptyResponse
	})
}

func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	return a.GuardStream(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(a.buildRequest(message))
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		out, err := a.runtime.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(a.Config().Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return fmt.Errorf("invoke model stream: %w", err)
		}

		stream := out.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var ev streamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &ev); err != nil {
				log.Warn().Err(err).Msg("evento bedrock non valido, lo salto")
				continue
			}
			if ev.Type == "content_block_delta" && ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if err := handler(ev.Delta.Text); err != nil {
					return fmt.Errorf("handler error: %w", err)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("stream read error: %w", err)
		}
		return nil
	})
}

// HealthCheck manda una richiesta minima al modello configurato.
func (a *Agent) HealthCheck(ctx context.Context) error {
	req := a.buildRequest("ping")
	req.MaxTokens = 1
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = a.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.Config().Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("bedrock health check: %w", err)
	}
	return nil
}

func (a *Agent) buildRequest(message string) invokeRequest {
	cfg := a.Config()
	maxTokens := defaultMaxTokens
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}
	req := invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           cfg.SystemPrompt,
		Messages: []invokeMessage{
			{Role: "user", Content: message},
		},
		Temperature: cfg.Temperature,
	}
	if reg := a.Tools(); reg != nil {
		for _, t := range reg.List() {
			req.Tools = append(req.Tools, t.BedrockDefinition())
		}
	}
	return req
}

type invokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []invokeMessage `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	Tools            []any           `json:"tools,omitempty"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}
