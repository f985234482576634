package tools

import (
	"context"
	"fmt"
)

// Handler esegue il tool con i parametri gia' validati.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Parameter descrive un singolo parametro del tool in forma
// indipendente dal provider.
type Parameter struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool e' una capacita' invocabile dagli agenti. Name deve essere
// univoco nel registro.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]Parameter
	Handler     Handler
}

var allowedTypes = map[string]struct{}{
	"string":  {},
	"integer": {},
	"number":  {},
	"boolean": {},
	"object":  {},
	"array":   {},
}

// Validate verifica che il tool sia ben formato prima della
// registrazione.
func (t Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", t.Name)
	}
	for name, p := range t.Parameters {
		if _, ok := allowedTypes[p.Type]; !ok {
			return fmt.Errorf("tool %q: parameter %q has invalid type %q", t.Name, name, p.Type)
		}
	}
	return nil
}

func (t Tool) requiredNames() []string {
	var required []string
	for name, p := range t.Parameters {
		if p.Required {
			required = append(required, name)
		}
	}
	return required
}

func (t Tool) propertySchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	for name, p := range t.Parameters {
		props[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	return props
}

// OpenAIDefinition rende il tool nel formato function-calling di
// OpenAI (usato anche da Azure).
func (t Tool) OpenAIDefinition() map[string]any {
	required := t.requiredNames()
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": t.propertySchema(),
				"required":   required,
			},
		},
	}
}

// BedrockDefinition rende il tool nel formato toolSpec di Bedrock.
func (t Tool) BedrockDefinition() map[string]any {
	required := t.requiredNames()
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"toolSpec": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": map[string]any{
				"json": map[string]any{
					"type":       "object",
					"properties": t.propertySchema(),
					"required":   required,
				},
			},
		},
	}
}

// OllamaDefinition rende il tool nel formato tools di Ollama, che
// ricalca quello OpenAI.
func (t Tool) OllamaDefinition() map[string]any {
	return t.OpenAIDefinition()
}
