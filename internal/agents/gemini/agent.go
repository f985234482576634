package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/tools"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrModelNotFound = errors.New("model not found")
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Options configura l'agente Gemini.
type Options struct {
	BaseURL string
	APIKey  string
}

// Agent usa l'API generativelanguage di Google.
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
	a.httpClient.
		SetBaseURL(opts.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", opts.APIKey)
	return a, nil
}

func (a *Agent) Setup(ctx context.Context) error {
	return a.HealthCheck(ctx)
}

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		var result generateResponse
		var errResp geminiError

		resp, err := a.httpClient.R().
			SetContext(ctx).
			SetBody(a.buildRequest(message)).
			SetResult(&result).
			SetError(&errResp).
			Post(fmt.Sprintf("/v1beta/models/%s:generateContent", a.Config().Model))
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
		if resp.IsError() {
			return "", a.statusError(resp.StatusCode(), &errResp)
		}
		return result.text()
	})
}

func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	return a.GuardStream(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(a.buildRequest(message))
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
			a.opts.BaseURL, a.Config().Model, a.opts.APIKey)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := a.httpClient.GetClient().Do(httpReq)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return a.statusError(httpResp.StatusCode, nil)
		}

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				log.Warn().Err(err).Msg("chunk gemini non valido, lo salto")
				continue
			}
			text, err := chunk.text()
			if err != nil {
				continue
			}
			if text != "" {
				if err := handler(text); err != nil {
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

func (a *Agent) HealthCheck(ctx context.Context) error {
	resp, err := a.httpClient.R().SetContext(ctx).
		Get(fmt.Sprintf("/v1beta/models/%s", a.Config().Model))
	if err != nil {
		return fmt.Errorf("gemini health check: %w", err)
	}
	if resp.IsError() {
		return a.statusError(resp.StatusCode(), nil)
	}
	return nil
}

func (a *Agent) buildRequest(message string) generateRequest {
	cfg := a.Config()
	req := generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: message}}},
		},
	}
	if cfg.SystemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemPrompt}}}
	}
	if cfg.Temperature != nil || cfg.MaxTokens != nil {
		req.GenerationConfig = &generationConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxTokens,
		}
	}
	return req
}

func (a *Agent) statusError(status int, errResp *geminiError) error {
	detail := ""
	if errResp != nil && errResp.Error.Message != "" {
		detail = ": " + errResp.Error.Message
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w%s", ErrInvalidAPIKey, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w%s", ErrQuotaExceeded, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w%s", ErrModelNotFound, detail)
	default:
		return fmt.Errorf("gemini status %d%s", status, detail)
	}
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() (string, error) {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty model response")
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
