package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/montycloud/moya/internal/health"
)

// Info riassume un agente registrato, usato dall'API e dal
// classificatore.
type Info struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Health      health.Metrics `json:"health"`
}

// Registry mantiene gli agenti disponibili all'orchestratore. Safe
// per uso concorrente.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register aggiunge un agente. Un nome gia' presente e' un errore.
func (r *Registry) Register(a Agent) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("agent must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("agent %q already registered", a.Name())
	}
	r.agents[a.Name()] = a
	log.Info().Str("agent", a.Name()).Str("type", a.Type()).Msg("agente registrato")
	return nil
}

// Unregister rimuove un agente. Restituisce true se era presente.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.agents[name]
	delete(r.agents, name)
	return existed
}

// Get restituisce l'agente con il nome dato.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List restituisce gli agenti ordinati per nome.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names restituisce i nomi degli agenti registrati, ordinati.
func (r *Registry) Names() []string {
	agents := r.List()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name()
	}
	return names
}

// Len restituisce il numero di agenti registrati.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Describe restituisce le informazioni di tutti gli agenti.
func (r *Registry) Describe() []Info {
	agents := r.List()
	infos := make([]Info, len(agents))
	for i, a := range agents {
		infos[i] = Info{
			Name:        a.Name(),
			Type:        a.Type(),
			Description: a.Description(),
			Health:      a.Health(),
		}
	}
	return infos
}

// CatalogPrompt produce la descrizione testuale degli agenti, usata
// dal classificatore LLM per scegliere il destinatario.
func (r *Registry) CatalogPrompt() string {
	var sb strings.Builder
	for _, a := range r.List() {
		fmt.Fprintf(&sb, "- %s: %s\n", a.Name(), a.Description())
	}
	return sb.String()
}

// HealthCheck interroga tutti gli agenti in parallelo e restituisce
// gli errori per nome. Una mappa vuota indica che sono tutti sani.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	agents := r.List()

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := make(map[string]error)

	for _, a := range agents {
		wg.Add(1)
		go func(a Agent) {
			defer wg.Done()
			if err := a.HealthCheck(ctx); err != nil {
				mu.Lock()
				failures[a.Name()] = err
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()
	return failures
}
