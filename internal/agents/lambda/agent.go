package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/tools"
)

var ErrFunctionFailed = errors.New("lambda function failed")

// invokeAPI copre le chiamate Lambda usate dall'agente.
type invokeAPI interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// Options configura l'agente Lambda.
type Options struct {
	FunctionName string
	Region       string
}

// Agent delega la gestione dei messaggi a una funzione AWS Lambda.
// Il payload e la risposta sono JSON con i campi message/response.
type Agent struct {
	*agents.Base
	opts   Options
	client invokeAPI
}

func New(ctx context.Context, cfg agents.Config, opts Options, reg *tools.Registry) (*Agent, error) {
	base, err := agents.NewBase(cfg, reg)
	if err != nil {
		return nil, err
	}
	if opts.FunctionName == "" {
		return nil, fmt.Errorf("agent %q: function name is required", cfg.Name)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent %q: load AWS config: %w", cfg.Name, err)
	}

	return &Agent{Base: base, opts: opts, client: awslambda.NewFromConfig(awsCfg)}, nil
}

// NewWithClient costruisce l'agente con un client gia' pronto.
func NewWithClient(cfg agents.Config, opts Options, client invokeAPI, reg *tools.Registry) (*Agent, error) {
	base, err := agents.NewBase(cfg, reg)
	if err != nil {
		return nil, err
	}
	if opts.FunctionName == "" {
		return nil, fmt.Errorf("agent %q: function name is required", cfg.Name)
	}
	return &Agent{Base: base, opts: opts, client: client}, nil
}

func (a *Agent) Setup(context.Context) error { return nil }

func (a *Agent) Handle(ctx context.Context, message string, opts ...agents.Option) (string, error) {
	o := agents.ApplyOptions(opts)
	return a.Guard(ctx, func(ctx context.Context) (string, error) {
		return a.invoke(ctx, message, o)
	})
}

// HandleStream invoca la funzione e consegna la risposta intera come
// unico chunk. Lambda non supporta streaming di risposta su Invoke.
func (a *Agent) HandleStream(ctx context.Context, message string, handler agents.StreamHandler, opts ...agents.Option) error {
	o := agents.ApplyOptions(opts)
	return a.GuardStream(ctx, func(ctx context.Context) error {
		out, err := a.invoke(ctx, message, o)
		if err != nil {
			return err
		}
		return handler(out)
	})
}

// HealthCheck esegue una dry run della funzione per verificare
// permessi ed esistenza senza eseguirla.
func (a *Agent) HealthCheck(ctx context.Context) error {
	_, err := a.client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(a.opts.FunctionName),
		InvocationType: "DryRun",
	})
	if err != nil {
		return fmt.Errorf("lambda health check: %w", err)
	}
	return nil
}

func (a *Agent) invoke(ctx context.Context, message string, o agents.Options) (string, error) {
	payload, err := json.Marshal(invokePayload{
		Message:  message,
		ThreadID: o.ThreadID,
		Metadata: o.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	out, err := a.client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName: aws.String(a.opts.FunctionName),
		Payload:      payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", a.opts.FunctionName, err)
	}
	if out.FunctionError != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrFunctionFailed,
			aws.ToString(out.FunctionError), strings.TrimSpace(string(out.Payload)))
	}

	var resp invokeResult
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		// Alcune funzioni restituiscono la stringa nuda.
		return strings.Trim(string(out.Payload), `"`), nil
	}
	return resp.Response, nil
}

type invokePayload struct {
	Message  string         `json:"message"`
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type invokeResult struct {
	Response string `json:"response"`
}
