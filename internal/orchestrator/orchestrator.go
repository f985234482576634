package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
	"github.com/montycloud/moya/internal/conversation"
	"github.com/montycloud/moya/internal/memory"
)

const defaultContextWindow = 5

// Orchestrator smista i messaggi degli utenti agli agenti e
// mantiene la cronologia dei thread nel repository.
type Orchestrator interface {
	Orchestrate(ctx context.Context, threadID, message string) (string, error)
	OrchestrateStream(ctx context.Context, threadID, message string, handler agents.StreamHandler) (string, error)
	Registry() *agents.Registry
}

// Simple inoltra ogni messaggio sempre allo stesso agente.
type Simple struct {
	registry *agents.Registry
	repo     memory.Repository
	agent    string
	window   int
}

// SimpleOption regola la costruzione del Simple.
type SimpleOption func(*Simple)

// WithSimpleContextWindow imposta quanti messaggi recenti del thread
// vengono inclusi nel contesto passato all'agente.
func WithSimpleContextWindow(n int) SimpleOption {
	return func(o *Simple) { o.window = n }
}

func NewSimple(reg *agents.Registry, repo memory.Repository, agentName string, opts ...SimpleOption) (*Simple, error) {
	if _, ok := reg.Get(agentName); !ok {
		return nil, fmt.Errorf("agent %q not registered", agentName)
	}
	o := &Simple{registry: reg, repo: repo, agent: agentName, window: defaultContextWindow}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Simple) Registry() *agents.Registry { return o.registry }

func (o *Simple) Orchestrate(ctx context.Context, threadID, message string) (string, error) {
	return dispatch(ctx, o.registry, o.repo, o.window, threadID, o.agent, message, nil)
}

func (o *Simple) OrchestrateStream(ctx context.Context, threadID, message string, handler agents.StreamHandler) (string, error) {
	return dispatch(ctx, o.registry, o.repo, o.window, threadID, o.agent, message, handler)
}

// MultiAgent sceglie l'agente tramite un classificatore.
type MultiAgent struct {
	registry   *agents.Registry
	repo       memory.Repository
	classifier Classifier
	fallback   string
	window     int
}

// MultiAgentOption regola la costruzione del MultiAgent.
type MultiAgentOption func(*MultiAgent)

// WithContextWindow imposta quanti messaggi recenti del thread
// vengono inclusi nel contesto passato all'agente.
func WithContextWindow(n int) MultiAgentOption {
	return func(o *MultiAgent) { o.window = n }
}

// WithFallbackAgent imposta l'agente usato quando la classificazione
// fallisce.
func WithFallbackAgent(name string) MultiAgentOption {
	return func(o *MultiAgent) { o.fallback = name }
}

func NewMultiAgent(reg *agents.Registry, repo memory.Repository, classifier Classifier, opts ...MultiAgentOption) *MultiAgent {
	o := &MultiAgent{
		registry:   reg,
		repo:       repo,
		classifier: classifier,
		window:     defaultContextWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *MultiAgent) Registry() *agents.Registry { return o.registry }

func (o *MultiAgent) Orchestrate(ctx context.Context, threadID, message string) (string, error) {
	name, err := o.pick(ctx, message)
	if err != nil {
		return "", err
	}
	return dispatch(ctx, o.registry, o.repo, o.window, threadID, name, message, nil)
}

func (o *MultiAgent) OrchestrateStream(ctx context.Context, threadID, message string, handler agents.StreamHandler) (string, error) {
	name, err := o.pick(ctx, message)
	if err != nil {
		return "", err
	}
	return dispatch(ctx, o.registry, o.repo, o.window, threadID, name, message, handler)
}

func (o *MultiAgent) pick(ctx context.Context, message string) (string, error) {
	name, err := o.classifier.Classify(ctx, message, o.registry)
	if err != nil {
		if o.fallback != "" {
			log.Warn().Err(err).Str("fallback", o.fallback).Msg("classificazione fallita, uso il fallback")
			return o.fallback, nil
		}
		return "", err
	}
	return name, nil
}

// dispatch persiste il messaggio utente, costruisce il contesto dal
// thread, invoca l'agente e persiste la risposta. L'ordine di
// persistenza preserva la sequenza della conversazione anche in caso
// di errore dell'agente.
func dispatch(ctx context.Context, reg *agents.Registry, repo memory.Repository, window int, threadID, agentName, message string, handler agents.StreamHandler) (string, error) {
	agent, ok := reg.Get(agentName)
	if !ok {
		return "", fmt.Errorf("agent %q not registered", agentName)
	}

	if repo != nil && threadID != "" {
		userMsg := conversation.NewMessage(threadID, "user", message, nil)
		if err := repo.AppendMessage(ctx, userMsg); err != nil {
			return "", fmt.Errorf("store user message: %w", err)
		}
	}

	input := message
	if repo != nil && threadID != "" && window > 0 {
		enriched, err := enrichWithHistory(ctx, repo, threadID, message, window)
		if err != nil {
			log.Warn().Err(err).Str("thread", threadID).Msg("contesto del thread non disponibile")
		} else {
			input = enriched
		}
	}

	log.Debug().Str("agent", agentName).Str("thread", threadID).Msg("inoltro messaggio")

	var reply string
	var err error
	if handler != nil {
		var sb strings.Builder
		err = agent.HandleStream(ctx, input, func(chunk string) error {
			sb.WriteString(chunk)
			return handler(chunk)
		}, agents.WithThreadID(threadID))
		reply = sb.String()
	} else {
		reply, err = agent.Handle(ctx, input, agents.WithThreadID(threadID))
	}
	if err != nil {
		return "", err
	}

	if repo != nil && threadID != "" {
		replyMsg := conversation.NewMessage(threadID, agentName, reply, nil)
		if err := repo.AppendMessage(ctx, replyMsg); err != nil {
			return "", fmt.Errorf("store agent reply: %w", err)
		}
	}
	return reply, nil
}

// enrichWithHistory antepone al messaggio gli ultimi scambi del
// thread. Il messaggio corrente e' gia' stato persistito, quindi
// viene escluso dalla cronologia.
func enrichWithHistory(ctx context.Context, repo memory.Repository, threadID, message string, window int) (string, error) {
	history, err := repo.GetLastNMessages(ctx, threadID, window+1)
	if err != nil {
		return "", err
	}
	if len(history) > 0 {
		history = history[:len(history)-1]
	}
	if len(history) == 0 {
		return message, nil
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "%s: %s\n", m.Sender, m.Content)
	}
	sb.WriteString("\nCurrent message: ")
	sb.WriteString(message)
	return sb.String(), nil
}
