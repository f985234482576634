package ollama

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
	ErrModelNotFound = errors.New("model not found")
	ErrUnreachable   = errors.New("ollama server unreachable")
)

const defaultBaseURL = "http://localhost:11434"

// Options configura l'agente Ollama.
type Options struct {
	BaseURL string
}

// Agent dialoga con un server Ollama locale tramite /api/chat.
// Lo streaming usa JSON delimitato da newline, non SSE.
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
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	a := &Agent{Base: base, opts: opts, httpClient: resty.New()}
	a.httpClient.
		SetBaseURL(opts.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return a, nil
}

// Setup verifica che il modello configurato sia disponibile sul
// server.
func (a *Agent) Setup(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	resp, err := a.httpClient.R().SetContext(ctx).SetResult(&tags).Get("/api/tags")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode())
	}

	model := a.Config().Model
	for _, m := range tags.Models {
		if m.Name == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return nil
		}
	}
	log.Warn().Str("agent", a.Name()).Str("model", model).Msg("modello non presente sul server ollama")
	return fmt.Errorf("%w: %s", ErrModelNotFound, model)
}

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		var result chatResponse
		resp, err := a.httpClient.R().
			SetContext(ctx).
			SetBody(a.buildRequest(message, false)).
			SetResult(&result).
			Post("/api/chat")
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
		if resp.IsError() {
			return "", a.statusError(resp.StatusCode(), resp.String())
		}
		return result.Message.Content, nil
	})
}

func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	return a.GuardStream(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(a.buildRequest(message, true))
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.opts.BaseURL+"/api/chat", strings.NewReader(string(body)))
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
			return a.statusError(httpResp.StatusCode, "")
		}

		// Ogni riga e' un oggetto JSON completo, l'ultimo ha done=true.
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				log.Warn().Err(err).Msg("chunk ollama non valido, lo salto")
				continue
			}
			if chunk.Message.Content != "" {
				if err := handler(chunk.Message.Content); err != nil {
					return fmt.Errorf("handler error: %w", err)
				}
			}
			if chunk.Done {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("stream read error: %w", err)
		}
		return nil
	})
}

func (a *Agent) HealthCheck(ctx context.Context) error {
	resp, err := a.httpClient.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode())
	}
	return nil
}

func (a *Agent) buildRequest(message string, stream bool) chatRequest {
	cfg := a.Config()
	req := chatRequest{
		Model:  cfg.Model,
		Stream: stream,
	}
	if cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: message})

	if cfg.Temperature != nil {
		req.Options = map[string]any{"temperature": *cfg.Temperature}
	}
	if reg := a.Tools(); reg != nil {
		for _, t := range reg.List() {
			req.Tools = append(req.Tools, t.OllamaDefinition())
		}
	}
	return req
}

func (a *Agent) statusError(status int, body string) error {
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrModelNotFound, a.Config().Model)
	}
	return fmt.Errorf("ollama status %d: %s", status, body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
	Tools    []any          `json:"tools,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}
