package azure

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/tools"
)

var (
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrServiceUnavailable = errors.New("service unavailable")
)

const defaultAPIVersion = "2024-02-15-preview"

// Options configura l'agente Azure OpenAI. Endpoint e' l'URL della
// risorsa, Deployment il nome del deployment del modello.
type Options struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
}

// Agent parla il protocollo chat completions di Azure OpenAI:
// stesso wire format di OpenAI ma endpoint per-deployment e header
// api-key.
type Agent struct {
	*agents.Base
	opts       Options
	httpClient *resty.Client
}

func New(cfg agents.Config, opts Options, reg *tools.Registry) (*Agent, error) {
	base, err := agents.NewBase(cfg, reg)
	if err != nil {
		return nil, err
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("agent %q: endpoint is required", cfg.Name)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("agent %q: API key is required", cfg.Name)
	}
	if opts.Deployment == "" {
		opts.Deployment = cfg.Model
	}
	if opts.Deployment == "" {
		return nil, fmt.Errorf("agent %q: deployment is required", cfg.Name)
	}
	if opts.APIVersion == "" {
		opts.APIVersion = defaultAPIVersion
	}

	a := &Agent{Base: base, opts: opts, httpClient: resty.New()}
	a.httpClient.
		SetBaseURL(strings.TrimRight(opts.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r == nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("api-key", opts.APIKey).
		SetQueryParam("api-version", opts.APIVersion)

	a.httpClient.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug().
			Str("agent", a.Name()).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Time()).
			Msg("risposta Azure OpenAI")
		return nil
	})
	return a, nil
}

func (a *Agent) completionsPath() string {
	return fmt.Sprintf("/openai/deployments/%s/chat/completions", a.opts.Deployment)
}

func (a *Agent) Setup(ctx context.Context) error {
	return a.HealthCheck(ctx)
}

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		var result completionResponse
		var errResp azureError

		resp, err := a.httpClient.R().
			SetContext(ctx).
			SetBody(a.buildRequest(message, false)).
			SetResult(&result).
			SetError(&errResp).
			Post(a.completionsPath())
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
		if resp.IsError() {
			return "", a.statusError(resp.StatusCode(), &errResp)
		}
		if len(result.Choices) == 0 {
			return "", fmt.Errorf("empty completion response")
		}
		return result.Choices[0].Message.Content, nil
	})
}

func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	return a.GuardStream(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(a.buildRequest(message, true))
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		url := fmt.Sprintf("%s%s?api-version=%s",
			strings.TrimRight(a.opts.Endpoint, "/"), a.completionsPath(), a.opts.APIVersion)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("api-key", a.opts.APIKey)

		httpResp, err := a.httpClient.GetClient().Do(httpReq)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
			var errResp azureError
			_ = json.Unmarshal(raw, &errResp)
			return a.statusError(httpResp.StatusCode, &errResp)
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return nil
			}
			var chunk streamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				log.Warn().Err(err).Msg("chunk SSE non valido, lo salto")
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if err := handler(delta); err != nil {
					return fmt.Errorf("handler error: %w", err)
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("stream read error: %w", err)
		}
		return nil
	})
}

// HealthCheck manda una completion minima al deployment. Azure non
// espone un endpoint di listing modelli per-deployment.
func (a *Agent) HealthCheck(ctx context.Context) error {
	one := 1
	req := completionRequest{
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: &one,
	}
	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		Post(a.completionsPath())
	if err != nil {
		return fmt.Errorf("azure health check: %w", err)
	}
	if resp.IsError() {
		return a.statusError(resp.StatusCode(), nil)
	}
	return nil
}

func (a *Agent) buildRequest(message string, stream bool) completionRequest {
	cfg := a.Config()
	req := completionRequest{
		Stream:      stream,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: message})

	if reg := a.Tools(); reg != nil {
		for _, t := range reg.List() {
			req.Tools = append(req.Tools, t.OpenAIDefinition())
		}
	}
	return req
}

func (a *Agent) statusError(status int, errResp *azureError) error {
	detail := ""
	if errResp != nil && errResp.Error.Message != "" {
		detail = ": " + errResp.Error.Message
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w%s", ErrInvalidAPIKey, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w%s", ErrRateLimitExceeded, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w%s", ErrDeploymentNotFound, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w%s", ErrInvalidRequest, detail)
	default:
		if status >= 500 {
			return fmt.Errorf("%w (status %d)%s", ErrServiceUnavailable, status, detail)
		}
		return fmt.Errorf("unexpected status %d%s", status, detail)
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Tools       []any         `json:"tools,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type azureError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
