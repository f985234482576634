package openai

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
	ErrModelNotFound      = errors.New("model not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrServiceUnavailable = errors.New("service unavailable")
)

const defaultBaseURL = "https://api.openai.com"

// Options configura l'agente OpenAI.
type Options struct {
	BaseURL string
	APIKey  string
}

// Agent inoltra i messaggi alle chat completions OpenAI.
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
	if opts.APIKey == "" {
		return nil, fmt.Errorf("agent %q: API key is required", cfg.Name)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	a := &Agent{Base: base, opts: opts, httpClient: resty.New()}
	a.configureHTTPClient()
	return a, nil
}

// configureHTTPClient configura il client HTTP con retry e timeout
func (a *Agent) configureHTTPClient() {
	a.httpClient.
		SetBaseURL(a.opts.BaseURL).
		SetTimeout(a.Config().Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusRequestTimeout
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+a.opts.APIKey)

	a.httpClient.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		log.Debug().
			Str("agent", a.Name()).
			Int("status", resp.StatusCode()).
			Dur("duration", resp.Time()).
			Msg("risposta OpenAI")
		return nil
	})
}

func (a *Agent) Setup(ctx context.Context) error {
	return a.HealthCheck(ctx)
}

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		return a.complete(ctx, message)
	})
}

func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	return a.GuardStream(ctx, func(ctx context.Context) error {
		return a.stream(ctx, message, handler)
	})
}

// HealthCheck verifica la raggiungibilita' dell'API elencando i
// modelli.
func (a *Agent) HealthCheck(ctx context.Context) error {
	resp, err := a.httpClient.R().SetContext(ctx).Get("/v1/models")
	if err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	if resp.IsError() {
		return a.statusError(resp.StatusCode(), nil)
	}
	return nil
}

func (a *Agent) complete(ctx context.Context, message string) (string, error) {
	var result chatCompletionResponse
	var errResp errorResponse

	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetBody(a.buildRequest(message, false)).
		SetResult(&result).
		SetError(&errResp).
		Post("/v1/chat/completions")
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
}

func (a *Agent) stream(ctx context.Context, message string, handler agents.StreamHandler) error {
	body, err := json.Marshal(a.buildRequest(message, true))
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.opts.BaseURL+"/v1/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+a.opts.APIKey)

	httpResp, err := a.httpClient.GetClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		var errResp errorResponse
		_ = json.Unmarshal(raw, &errResp)
		return a.statusError(httpResp.StatusCode, &errResp)
	}

	return processSSE(httpResp.Body, handler)
}

// processSSE legge lo stream di chunk SSE fino a [DONE].
func processSSE(body io.Reader, handler agents.StreamHandler) error {
	scanner := bufio.NewScanner(body)
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

		var chunk chatCompletionStreamResponse
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
}

func (a *Agent) buildRequest(message string, stream bool) chatCompletionRequest {
	cfg := a.Config()
	req := chatCompletionRequest{
		Model:       cfg.Model,
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

func (a *Agent) statusError(status int, errResp *errorResponse) error {
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
		return fmt.Errorf("%w%s", ErrModelNotFound, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w%s", ErrInvalidRequest, detail)
	default:
		if status >= 500 {
			return fmt.Errorf("%w (status %d)%s", ErrServiceUnavailable, status, detail)
		}
		return fmt.Errorf("unexpected status %d%s", status, detail)
	}
}
