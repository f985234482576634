package remote

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
	ErrUnauthorized = errors.New("remote agent rejected credentials")
	ErrUnavailable  = errors.New("remote agent unavailable")
)

// Options configura l'agente remoto. AuthToken, se presente, viene
// inviato come bearer token.
type Options struct {
	BaseURL   string
	AuthToken string
}

// Agent delega la gestione dei messaggi a un altro processo che
// espone /chat, /chat/stream e /health.
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
		return nil, fmt.Errorf("agent %q: base URL is required", cfg.Name)
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	a := &Agent{Base: base, opts: opts, httpClient: resty.New()}
	a.httpClient.
		SetBaseURL(opts.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	if opts.AuthToken != "" {
		a.httpClient.SetAuthToken(opts.AuthToken)
	}
	return a, nil
}

// Setup verifica subito la raggiungibilita' dell'endpoint remoto.
func (a *Agent) Setup(ctx context.Context) error {
	if err := a.HealthCheck(ctx); err != nil {
		log.Error().Err(err).Str("agent", a.Name()).Str("url", a.opts.BaseURL).
			Msg("agente remoto non raggiungibile")
		return err
	}
	return nil
}

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	o := agents.ApplyOptions(opts)
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		var result chatResponse
		resp, err := a.httpClient.R().
			SetContext(ctx).
			SetBody(chatRequest{Message: message, ThreadID: o.ThreadID}).
			SetResult(&result).
			Post("/chat")
		if err != nil {
			return "", fmt.Errorf("request failed: %w", err)
		}
		if resp.IsError() {
			return "", a.statusError(resp.StatusCode(), resp.String())
		}
		return result.Response, nil
	})
}

func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	o := agents.ApplyOptions(opts)
	return a.GuardStream(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(chatRequest{Message: message, ThreadID: o.ThreadID})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.opts.BaseURL+"/chat/stream", strings.NewReader(string(body)))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		if a.opts.AuthToken != "" {
			httpReq.Header.Set("Authorization", "Bearer "+a.opts.AuthToken)
		}

		httpResp, err := a.httpClient.GetClient().Do(httpReq)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
			return a.statusError(httpResp.StatusCode, string(raw))
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
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// I server piu' vecchi mandano testo puro nelle righe data.
				if err := handler(data); err != nil {
					return fmt.Errorf("handler error: %w", err)
				}
				continue
			}
			if chunk.Content != "" {
				if err := handler(chunk.Content); err != nil {
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
	resp, err := a.httpClient.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return a.statusError(resp.StatusCode(), resp.String())
	}
	return nil
}

func (a *Agent) statusError(status int, body string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, body)
	}
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type streamChunk struct {
	Content string `json:"content"`
}
