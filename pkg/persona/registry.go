package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
)

var (
	ErrNoPersonas = errors.New("no valid personas found")
	ErrNotFound   = errors.New("not found")
)

// AgentConfig is a persona bound to a model. Model carries the effective
// temperature and token limit.
type AgentConfig struct {
	Persona *Persona
	Model   llm.ModelConfig
}

// Registry is read-only after Load and safe for concurrent use.
type Registry struct {
	personas     map[string]*Persona
	models       map[string]llm.ModelConfig
	modelOrder   []string
	defaultModel string
}

// Load parses every persona file in dir. Invalid files are logged and
// skipped; an empty result is an error. The first model is the default.
func Load(dir string, models []llm.ModelConfig, log logger.ILogger) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir: %w", err)
	}

	r := &Registry{
		personas: map[string]*Persona{},
		models:   map[string]llm.ModelConfig{},
	}

	for _, entry := range entries {
		if entry.IsDir() || !isPersonaFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := loadPersona(path)
		if err == nil {
			if _, dup := r.personas[strings.ToLower(p.ID)]; dup {
				err = &ConfigError{File: path, Field: "id", Reason: fmt.Sprintf("duplicate persona id %q", p.ID)}
			}
		}
		if err != nil {
			log.Error("PersonaRegistry", "Persona rejected", map[string]interface{}{
				"file":  path,
				"error": err.Error(),
			})
			continue
		}
		r.personas[strings.ToLower(p.ID)] = p
		log.Info("PersonaRegistry", "Persona loaded", map[string]interface{}{
			"id":    p.ID,
			"roles": len(p.Roles),
		})
	}
	if len(r.personas) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoPersonas, dir)
	}

	for _, m := range models {
		id := strings.ToLower(m.ID)
		if id == "" {
			id = strings.ToLower(m.Name)
		}
		if _, dup := r.models[id]; dup {
			log.Warn("PersonaRegistry", "Duplicate model id ignored", map[string]interface{}{"id": id})
			continue
		}
		m.ID = id
		r.models[id] = m
		r.modelOrder = append(r.modelOrder, id)
	}
	if len(r.modelOrder) > 0 {
		r.defaultModel = r.modelOrder[0]
	}
	return r, nil
}

func isPersonaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return !strings.HasPrefix(name, ".")
	}
	return false
}

// JSON is valid YAML, so one decoder serves both.
func loadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{File: path, Reason: err.Error()}
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &ConfigError{File: path, Reason: "parse: " + err.Error()}
	}
	if err := p.validate(path); err != nil {
		return nil, err
	}
	p.SourceFile = path
	return &p, nil
}

type modelsFile struct {
	Models []llm.ModelConfig `yaml:"models"`
}

// LoadModelsFile reads an optional list of extra model configurations.
func LoadModelsFile(path string) ([]llm.ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigError{File: path, Reason: "parse: " + err.Error()}
	}
	for i, m := range f.Models {
		if m.ID == "" || m.Name == "" || m.ProviderKind == "" {
			return nil, &ConfigError{File: path, Field: fmt.Sprintf("models[%d]", i), Reason: "id, name and provider_kind are required"}
		}
	}
	return f.Models, nil
}

func (r *Registry) GetPersona(id string) (*Persona, error) {
	p, ok := r.personas[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("persona %q: %w", id, ErrNotFound)
	}
	return p, nil
}

// GetModel looks up a model; an empty id means the default model.
func (r *Registry) GetModel(id string) (llm.ModelConfig, error) {
	if id == "" {
		id = r.defaultModel
	}
	m, ok := r.models[strings.ToLower(id)]
	if !ok {
		return llm.ModelConfig{}, fmt.Errorf("model %q: %w", id, ErrNotFound)
	}
	return m, nil
}

func (r *Registry) ListPersonas() []*Persona {
	out := make([]*Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].ID) < strings.ToLower(out[j].ID) })
	return out
}

func (r *Registry) ListModels() []llm.ModelConfig {
	out := make([]llm.ModelConfig, 0, len(r.modelOrder))
	for _, id := range r.modelOrder {
		out = append(out, r.models[id])
	}
	return out
}

// BuildAgentConfig applies the persona's recommended parameters on top of
// the model defaults.
func (r *Registry) BuildAgentConfig(personaID, modelID string) (AgentConfig, error) {
	p, err := r.GetPersona(personaID)
	if err != nil {
		return AgentConfig{}, err
	}
	m, err := r.GetModel(modelID)
	if err != nil {
		return AgentConfig{}, err
	}
	if t := p.ModelCompat.RecommendedTemperature; t != nil {
		m.Temperature = *t
	}
	if n := p.ModelCompat.RecommendedMaxTokens; n != nil {
		m.MaxTokens = *n
	}
	return AgentConfig{Persona: p, Model: m}, nil
}
