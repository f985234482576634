package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/agents"
)

// Classifier sceglie l'agente destinatario di un messaggio. Deve
// restituire un nome presente nel registro.
type Classifier interface {
	Classify(ctx context.Context, message string, reg *agents.Registry) (string, error)
}

// KeywordClassifier instrada in base a parole chiave per agente.
// Vince l'agente con piu' match; a parita' il primo in ordine
// alfabetico.
type KeywordClassifier struct {
	// Keywords mappa nome agente -> parole chiave che lo attivano.
	Keywords map[string][]string
	// Default e' il fallback quando nessuna parola chiave combacia.
	Default string
}

func (c *KeywordClassifier) Classify(_ context.Context, message string, reg *agents.Registry) (string, error) {
	lower := strings.ToLower(message)

	best := ""
	bestScore := 0
	for _, name := range reg.Names() {
		score := 0
		for _, kw := range c.Keywords[name] {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	if bestScore > 0 {
		return best, nil
	}
	if c.Default == "" {
		return "", fmt.Errorf("no keyword matched and no default agent configured")
	}
	return c.Default, nil
}

// LLMClassifier chiede a un agente di selezione quale agente debba
// rispondere. La risposta viene ripulita e validata contro il
// registro, con fallback sul default.
type LLMClassifier struct {
	selector agents.Agent
	fallback string
}

func NewLLMClassifier(selector agents.Agent, fallback string) *LLMClassifier {
	return &LLMClassifier{selector: selector, fallback: fallback}
}

const classifierPrompt = `You are a router that selects the best agent for a user message.

Available agents:
%s
User message: %q

Reply with the name of the single best agent and nothing else.`

func (c *LLMClassifier) Classify(ctx context.Context, message string, reg *agents.Registry) (string, error) {
	prompt := fmt.Sprintf(classifierPrompt, reg.CatalogPrompt(), message)

	reply, err := c.selector.Handle(ctx, prompt)
	if err != nil {
		if c.fallback != "" {
			log.Warn().Err(err).Str("fallback", c.fallback).
				Msg("classificatore non disponibile, uso il default")
			return c.fallback, nil
		}
		return "", fmt.Errorf("classification failed: %w", err)
	}

	name := sanitizeAgentName(reply)
	if _, ok := reg.Get(name); ok {
		return name, nil
	}

	if c.fallback != "" {
		log.Warn().Str("reply", reply).Str("fallback", c.fallback).
			Msg("risposta del classificatore non valida, uso il default")
		return c.fallback, nil
	}
	return "", fmt.Errorf("classifier returned unknown agent %q", name)
}

// sanitizeAgentName estrae il nome dalla risposta del modello, che a
// volte aggiunge punteggiatura o testo attorno.
func sanitizeAgentName(reply string) string {
	name := strings.TrimSpace(reply)
	if idx := strings.IndexAny(name, "\n\r"); idx >= 0 {
		name = name[:idx]
	}
	name = strings.Trim(name, " .\"'`*")
	if fields := strings.Fields(name); len(fields) > 0 {
		name = fields[len(fields)-1]
	}
	return name
}
