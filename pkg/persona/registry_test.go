package persona

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
)

const vitaYAML = `id: VITA
display_name: VITA
description: Patient teaching assistant
personality: Encouraging, Socratic
teaching_style: Guide with questions before answers
roles:
  debugger:
    name: Debugger
    avatar: "🔍"
    system_prompt: Find the bug and explain it.
  corrector:
    name: Corrector
    avatar: "🛠"
    system_prompt: Propose the fix. End with Done.
  student_proxy:
    name: Student Proxy
    avatar: "🎓"
    system_prompt: Speak for the student.
conversation_settings:
  termination_phrases: ["Done", "TERMINATE"]
  max_rounds: 8
model_compatibility:
  tested_models: [llama3]
  recommended_temperature: 0.3
  recommended_max_tokens: 800
`

const robotJSON = `{
  "id": "robot",
  "display_name": "Robo",
  "description": "Terse assistant",
  "personality": "Direct",
  "roles": {"debugger": {"name": "Debugger", "avatar": "🤖", "system_prompt": "Debug."}}
}`

func writePersona(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

var testModels = []llm.ModelConfig{
	{ID: "llama3", Name: "llama3", ProviderKind: llm.ProviderOllama, Temperature: 0.7, MaxTokens: 1000},
	{ID: "GPT", Name: "gpt-4o-mini", ProviderKind: llm.ProviderOpenAICompat, Temperature: 0.5},
}

func TestLoad_ValidAndInvalidSiblings(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "vita.yaml", vitaYAML)
	writePersona(t, dir, "robot.json", robotJSON)
	writePersona(t, dir, "no_roles.yaml", "id: empty\ndisplay_name: Empty\ndescription: d\npersonality: p\n")
	writePersona(t, dir, "no_avatar.yml", "id: x\ndisplay_name: X\ndescription: d\npersonality: p\nroles:\n  debugger:\n    name: D\n    system_prompt: s\n")
	writePersona(t, dir, "hot.yaml", "id: hot\ndisplay_name: Hot\ndescription: d\npersonality: p\nroles:\n  debugger: {name: D, avatar: A, system_prompt: s}\nmodel_compatibility:\n  recommended_temperature: 1.5\n")
	writePersona(t, dir, "broken.yaml", "id: [unclosed")
	writePersona(t, dir, "notes.txt", "not a persona")

	reg, err := Load(dir, testModels, logger.NewNopLogger())
	require.NoError(t, err)

	ids := []string{}
	for _, p := range reg.ListPersonas() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"robot", "VITA"}, ids)

	p, err := reg.GetPersona("vita")
	require.NoError(t, err)
	debugger, ok := p.Role(RoleDebugger)
	require.True(t, ok)
	assert.Equal(t, "Debugger", debugger.Name)
	assert.Equal(t, []string{"Done", "TERMINATE"}, p.Conversation.TerminationPhrases)
}

func TestLoad_NoPersonas(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "bad.yaml", "display_name: nobody")

	_, err := Load(dir, testModels, logger.NewNopLogger())
	assert.ErrorIs(t, err, ErrNoPersonas)
}

func TestLoad_DuplicateIDKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "a.yaml", vitaYAML)
	writePersona(t, dir, "b.yaml", "id: vita\ndisplay_name: Impostor\ndescription: d\npersonality: p\nroles:\n  debugger: {name: D, avatar: A, system_prompt: s}\n")

	reg, err := Load(dir, testModels, logger.NewNopLogger())
	require.NoError(t, err)
	p, err := reg.GetPersona("VITA")
	require.NoError(t, err)
	assert.Equal(t, "VITA", p.DisplayName)
}

func TestValidate_ConfigErrorFields(t *testing.T) {
	tokens := 50
	p := Persona{
		ID: "x", DisplayName: "X", Description: "d", Personality: "p",
		Roles:       map[string]Role{"debugger": {Name: "D", Avatar: "A", SystemPrompt: "s"}},
		ModelCompat: ModelCompat{RecommendedMaxTokens: &tokens},
	}
	err := p.validate("x.yaml")

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "model_compatibility.recommended_max_tokens", cfgErr.Field)
}

func TestLookups(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "vita.yaml", vitaYAML)
	reg, err := Load(dir, testModels, logger.NewNopLogger())
	require.NoError(t, err)

	_, err = reg.GetPersona("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.GetModel("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	def, err := reg.GetModel("")
	require.NoError(t, err)
	assert.Equal(t, "llama3", def.Name)

	gpt, err := reg.GetModel("gpt")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gpt.Name)

	assert.Len(t, reg.ListModels(), 2)
}

func TestBuildAgentConfig(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "vita.yaml", vitaYAML)
	writePersona(t, dir, "robot.json", robotJSON)
	reg, err := Load(dir, testModels, logger.NewNopLogger())
	require.NoError(t, err)

	t.Run("persona recommendations override model defaults", func(t *testing.T) {
		cfg, err := reg.BuildAgentConfig("vita", "llama3")
		require.NoError(t, err)
		assert.Equal(t, 0.3, cfg.Model.Temperature)
		assert.Equal(t, 800, cfg.Model.MaxTokens)

		original, err := reg.GetModel("llama3")
		require.NoError(t, err)
		assert.Equal(t, 0.7, original.Temperature)
	})

	t.Run("model defaults kept without recommendations", func(t *testing.T) {
		cfg, err := reg.BuildAgentConfig("robot", "gpt")
		require.NoError(t, err)
		assert.Equal(t, 0.5, cfg.Model.Temperature)
		assert.Equal(t, 0, cfg.Model.MaxTokens)
	})

	t.Run("unknown ids", func(t *testing.T) {
		_, err := reg.BuildAgentConfig("nobody", "")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.BuildAgentConfig("vita", "nothing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLoadModelsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`models:
  - id: qwen
    name: qwen2.5-coder
    provider_kind: ollama
    endpoint_url: http://gpu-box:11434
    temperature: 0.2
    max_tokens: 600
`), 0o644))

	models, err := LoadModelsFile(path)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, llm.ProviderOllama, models[0].ProviderKind)
	assert.Equal(t, 600, models[0].MaxTokens)

	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: nameless\n"), 0o644))
	_, err = LoadModelsFile(path)
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
