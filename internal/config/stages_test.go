package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStagesEmbeddedDefaults(t *testing.T) {
	stages, err := LoadStages("")
	require.NoError(t, err)
	require.Len(t, stages, 3)

	profile := stages[StageProfile]
	require.NotNil(t, profile)
	assert.NotEmpty(t, profile.Instructions)
	assert.NotEmpty(t, profile.InitialChecklist)
	assert.Equal(t, "checklist_complete", profile.CompletionTool)
	assert.Contains(t, profile.AvailableFunctions, "checklist_complete")
	assert.Contains(t, profile.AvailableFunctions, "verify_location_on_map")

	plan := stages[StagePlan]
	assert.Equal(t, "plan_complete", plan.CompletionTool)
	assert.NotEmpty(t, plan.DatasetDecision)

	analyst := stages[StageAnalyst]
	assert.NotEmpty(t, analyst.QueryAssessmentInstructions)
	for _, tool := range []string{"fire_weather_index", "long_term_fire_history_records", "recent_fire_incident_data", "literature_search", "census"} {
		assert.Contains(t, analyst.AvailableFunctions, tool)
	}
}

func TestLoadStagesDiskOverride(t *testing.T) {
	dir := t.TempDir()
	override := `
instructions: "Overridden profile instructions."
initial_checklist: "1. Only question?"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.yml"), []byte(override), 0644))

	stages, err := LoadStages(dir)
	require.NoError(t, err)

	assert.Equal(t, "Overridden profile instructions.", stages[StageProfile].Instructions)
	// Untouched stages still come from the embedded defaults.
	assert.NotEmpty(t, stages[StagePlan].Instructions)
}

func TestLoadStagesRejectsBrokenOverride(t *testing.T) {
	dir := t.TempDir()
	broken := `
instructions: "ok"
completion_tool: missing_tool
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plan.yml"), []byte(broken), 0644))

	_, err := LoadStages(dir)
	assert.Error(t, err)
}

func TestStageConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StageConfig
		wantErr bool
	}{
		{
			name:    "missing instructions",
			cfg:     StageConfig{},
			wantErr: true,
		},
		{
			name: "completion tool not declared",
			cfg: StageConfig{
				Instructions:   "x",
				CompletionTool: "finish",
			},
			wantErr: true,
		},
		{
			name: "required param not declared",
			cfg: StageConfig{
				Instructions: "x",
				AvailableFunctions: map[string]ToolConfig{
					"census": {Required: []string{"lat"}},
				},
			},
			wantErr: true,
		},
		{
			name: "valid",
			cfg: StageConfig{
				Instructions:   "x",
				CompletionTool: "finish",
				AvailableFunctions: map[string]ToolConfig{
					"finish": {
						Parameters: map[string]ParamConfig{"plan": {Type: "string"}},
						Required:   []string{"plan"},
					},
				},
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate("test")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("WILDFIREGPT_MODEL", "gpt-4o-mini")
	t.Setenv("WILDFIREGPT_DB", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.DatabasePath)
	// Untouched fields keep their defaults.
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "wildfiregpt.yml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "gpt-4-turbo"
	cfg.StageDir = "/etc/wildfiregpt/stages"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-turbo", loaded.LLM.Model)
	assert.Equal(t, "/etc/wildfiregpt/stages", loaded.StageDir)
}
