package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/health"
	"github.com/montycloud/moya/internal/ratelimit"
	"github.com/montycloud/moya/internal/tools"
)

// StreamHandler riceve i chunk testuali durante lo streaming. Un
// errore restituito interrompe lo stream.
type StreamHandler func(chunk string) error

// Agent e' l'interfaccia comune a tutti gli agenti. Handle e
// HandleStream passano da Guard, che applica rate limiting e
// registra le metriche di salute.
type Agent interface {
	Name() string
	Type() string
	Description() string

	// Setup prepara il client sottostante. Va chiamato prima del
	// primo Handle.
	Setup(ctx context.Context) error

	Handle(ctx context.Context, message string, opts ...Option) (string, error)
	HandleStream(ctx context.Context, message string, handler StreamHandler, opts ...Option) error

	// HealthCheck verifica la raggiungibilita' del provider.
	HealthCheck(ctx context.Context) error

	Health() health.Metrics
}

// Config descrive un agente indipendentemente dal provider.
type Config struct {
	Name         string           `json:"name" mapstructure:"name"`
	Type         string           `json:"type" mapstructure:"type"`
	Description  string           `json:"description" mapstructure:"description"`
	SystemPrompt string           `json:"system_prompt" mapstructure:"system_prompt"`
	Model        string           `json:"model" mapstructure:"model"`
	Temperature  *float64         `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens    *int             `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Timeout      time.Duration    `json:"timeout" mapstructure:"timeout"`
	RateLimit    ratelimit.Config `json:"rate_limit" mapstructure:"rate_limit"`
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("agent %q: type is required", c.Name)
	}
	return nil
}

// Options raccoglie i parametri per-richiesta di Handle.
type Options struct {
	ThreadID string
	Metadata map[string]any
}

type Option func(*Options)

// WithThreadID associa la richiesta a un thread di conversazione.
func WithThreadID(id string) Option {
	return func(o *Options) { o.ThreadID = id }
}

// WithMetadata allega metadati arbitrari alla richiesta.
func WithMetadata(md map[string]any) Option {
	return func(o *Options) { o.Metadata = md }
}

func ApplyOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Base fornisce rate limiting, health tracking e accesso ai tool
// condiviso da tutti gli agenti concreti.
type Base struct {
	cfg     Config
	limiter ratelimit.Limiter
	monitor *health.Monitor
	tools   *tools.Registry
}

// NewBase costruisce la parte comune di un agente. Il registry dei
// tool puo' essere nil se l'agente non ne usa.
func NewBase(cfg Config, reg *tools.Registry) (*Base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", cfg.Name, err)
	}
	return &Base{
		cfg:     cfg,
		limiter: limiter,
		monitor: health.NewMonitor(),
		tools:   reg,
	}, nil
}

func (b *Base) Name() string           { return b.cfg.Name }
func (b *Base) Type() string           { return b.cfg.Type }
func (b *Base) Description() string    { return b.cfg.Description }
func (b *Base) Config() Config         { return b.cfg }
func (b *Base) Tools() *tools.Registry { return b.tools }

func (b *Base) Health() health.Metrics { return b.monitor.Snapshot() }

// Guard esegue impl applicando prima il rate limiter e registrando
// poi l'esito nel monitor. Una richiesta respinta dal limiter non
// viene conteggiata nelle metriche di salute.
func (b *Base) Guard(ctx context.Context, impl func(ctx context.Context) (string, error)) (string, error) {
	if info := b.limiter.Allow(); !info.Allowed {
		log.Warn().
			Str("agent", b.cfg.Name).
			Dur("retry_after", info.RetryAfter).
			Msg("richiesta respinta dal rate limiter")
		return "", &ratelimit.RateLimitError{Agent: b.cfg.Name, Info: info}
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := impl(ctx)
	b.monitor.RecordRequest(err == nil, time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("agent %q: %w", b.cfg.Name, err)
	}
	return out, nil
}

// GuardStream e' l'equivalente di Guard per le risposte in streaming.
func (b *Base) GuardStream(ctx context.Context, impl func(ctx context.Context) error) error {
	if info := b.limiter.Allow(); !info.Allowed {
		log.Warn().
			Str("agent", b.cfg.Name).
			Dur("retry_after", info.RetryAfter).
			Msg("richiesta streaming respinta dal rate limiter")
		return &ratelimit.RateLimitError{Agent: b.cfg.Name, Info: info}
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := impl(ctx)
	b.monitor.RecordRequest(err == nil, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("agent %q: %w", b.cfg.Name, err)
	}
	return nil
}
