package dto

import (
	"sort"

	"vita-be/pkg/llm"
	"vita-be/pkg/persona"
)

type PersonaSummary struct {
	Id            string   `json:"id"`
	DisplayName   string   `json:"display_name"`
	Description   string   `json:"description"`
	TeachingStyle string   `json:"teaching_style"`
	Roles         []string `json:"roles"`
	MaxRounds     int      `json:"max_rounds"`
}

type ModelSummary struct {
	Id           string `json:"id"`
	Name         string `json:"name"`
	ProviderKind string `json:"provider_kind"`
}

func NewPersonaSummary(p *persona.Persona) PersonaSummary {
	roles := make([]string, 0, len(p.Roles))
	for id := range p.Roles {
		roles = append(roles, id)
	}
	sort.Strings(roles)
	return PersonaSummary{
		Id:            p.ID,
		DisplayName:   p.DisplayName,
		Description:   p.Description,
		TeachingStyle: p.TeachingStyle,
		Roles:         roles,
		MaxRounds:     p.Conversation.MaxRounds,
	}
}

// NewModelSummary leaves out endpoint and credentials.
func NewModelSummary(m llm.ModelConfig) ModelSummary {
	return ModelSummary{Id: m.ID, Name: m.Name, ProviderKind: string(m.ProviderKind)}
}
