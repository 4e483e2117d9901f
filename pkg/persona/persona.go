// Package persona loads persona definitions and model configurations and
// combines them into agent settings for the debugging council.
package persona

import (
	"fmt"
	"strings"
)

// Role ids the council looks up.
const (
	RoleDebugger     = "debugger"
	RoleCorrector    = "corrector"
	RoleStudentProxy = "student_proxy"
)

const (
	minMaxTokens = 100
	maxMaxTokens = 2000
)

type Role struct {
	Name         string   `yaml:"name"`
	Avatar       string   `yaml:"avatar"`
	SystemPrompt string   `yaml:"system_prompt"`
	Traits       []string `yaml:"traits"`
}

type ConversationSettings struct {
	TerminationPhrases []string `yaml:"termination_phrases"`
	TimeoutSeconds     int      `yaml:"timeout_seconds"`
	MaxRounds          int      `yaml:"max_rounds"`
}

// ModelCompat recommendations are pointers so "unset" and zero differ.
type ModelCompat struct {
	TestedModels           []string `yaml:"tested_models"`
	RecommendedTemperature *float64 `yaml:"recommended_temperature"`
	RecommendedMaxTokens   *int     `yaml:"recommended_max_tokens"`
}

type Persona struct {
	ID            string               `yaml:"id"`
	DisplayName   string               `yaml:"display_name"`
	Description   string               `yaml:"description"`
	Personality   string               `yaml:"personality"`
	Traits        []string             `yaml:"traits"`
	TeachingStyle string               `yaml:"teaching_style"`
	Roles         map[string]Role      `yaml:"roles"`
	Conversation  ConversationSettings `yaml:"conversation_settings"`
	ModelCompat   ModelCompat          `yaml:"model_compatibility"`

	SourceFile string `yaml:"-"`
}

// Role returns the role with the given id.
func (p *Persona) Role(id string) (Role, bool) {
	r, ok := p.Roles[id]
	return r, ok
}

// ConfigError describes why a persona or model definition was rejected.
type ConfigError struct {
	File   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Reason)
}

func (p *Persona) validate(file string) error {
	required := []struct {
		field string
		value string
	}{
		{"id", p.ID},
		{"display_name", p.DisplayName},
		{"description", p.Description},
		{"personality", p.Personality},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigError{File: file, Field: r.field, Reason: "is required"}
		}
	}

	if len(p.Roles) == 0 {
		return &ConfigError{File: file, Field: "roles", Reason: "at least one role is required"}
	}
	for id, role := range p.Roles {
		if strings.TrimSpace(id) == "" {
			return &ConfigError{File: file, Field: "roles", Reason: "role id is empty"}
		}
		switch {
		case strings.TrimSpace(role.Name) == "":
			return &ConfigError{File: file, Field: "roles." + id + ".name", Reason: "is required"}
		case strings.TrimSpace(role.Avatar) == "":
			return &ConfigError{File: file, Field: "roles." + id + ".avatar", Reason: "is required"}
		case strings.TrimSpace(role.SystemPrompt) == "":
			return &ConfigError{File: file, Field: "roles." + id + ".system_prompt", Reason: "is required"}
		}
	}

	if t := p.ModelCompat.RecommendedTemperature; t != nil && (*t < 0 || *t > 1) {
		return &ConfigError{File: file, Field: "model_compatibility.recommended_temperature", Reason: fmt.Sprintf("%v is outside [0,1]", *t)}
	}
	if n := p.ModelCompat.RecommendedMaxTokens; n != nil && (*n < minMaxTokens || *n > maxMaxTokens) {
		return &ConfigError{File: file, Field: "model_compatibility.recommended_max_tokens", Reason: fmt.Sprintf("%d is outside [%d,%d]", *n, minMaxTokens, maxMaxTokens)}
	}
	if p.Conversation.MaxRounds < 0 || p.Conversation.TimeoutSeconds < 0 {
		return &ConfigError{File: file, Field: "conversation_settings", Reason: "negative values are not allowed"}
	}
	return nil
}
