package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry mantiene i tool disponibili agli agenti. Safe per uso
// concorrente.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register aggiunge un tool al registro. Un nome gia' presente viene
// sovrascritto.
func (r *Registry) Register(t Tool) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		log.Warn().Str("tool", t.Name).Msg("tool gia' registrato, sovrascrivo")
	}
	r.tools[t.Name] = t
	return nil
}

// Get restituisce il tool con il nome dato.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List restituisce i tool registrati ordinati per nome.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call esegue il tool indicato con gli argomenti dati, verificando
// prima la presenza dei parametri obbligatori.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not registered", name)
	}
	for pname, p := range t.Parameters {
		if !p.Required {
			continue
		}
		if _, present := args[pname]; !present {
			return nil, fmt.Errorf("tool %q: missing required parameter %q", name, pname)
		}
	}
	return t.Handler(ctx, args)
}
