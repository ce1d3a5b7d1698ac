package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yml
var defaultStageFS embed.FS

// Canonical stage names.
const (
	StageProfile = "profile"
	StagePlan    = "plan"
	StageAnalyst = "analyst"
)

var stageFiles = map[string]string{
	StageProfile: "profile.yml",
	StagePlan:    "plan.yml",
	StageAnalyst: "analyst.yml",
}

// ParamConfig declares one tool parameter.
type ParamConfig struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// ToolConfig declares one tool available to a stage.
type ToolConfig struct {
	Description string                 `yaml:"description"`
	Parameters  map[string]ParamConfig `yaml:"parameters"`
	Required    []string               `yaml:"required"`

	// Appendix is static explanatory text appended to successful results.
	Appendix string `yaml:"appendix"`
}

// StageConfig is the per-stage configuration contract.
type StageConfig struct {
	// Instructions is the stage's base instruction template.
	Instructions string `yaml:"instructions"`

	// InitMessage is emitted as an assistant turn when the stage activates.
	InitMessage string `yaml:"init_message"`

	// AvailableFunctions declares the stage's tool registry.
	AvailableFunctions map[string]ToolConfig `yaml:"available_functions"`

	// CompletionTool names the tool whose invocation signals stage
	// completion.
	CompletionTool string `yaml:"completion_tool"`

	// CautionMessage is shown when the policy cannot decide or no tool
	// applies.
	CautionMessage string `yaml:"caution_message"`

	// FallbackText replaces tool output when execution fails.
	FallbackText string `yaml:"fallback_text"`

	// QueryAssessmentInstructions steers the respond-vs-proceed
	// classification (analysis stage).
	QueryAssessmentInstructions string `yaml:"query_assessment_instructions"`

	// TinyPlanInstructions steers the per-step tool selection.
	TinyPlanInstructions string `yaml:"tiny_plan_instructions"`

	// InitialChecklist seeds the profile stage's question list.
	InitialChecklist string `yaml:"initial_checklist"`

	// FollowUpInstructions drive the first checklist_complete pass that
	// generates follow-up questions (profile stage).
	FollowUpInstructions string `yaml:"follow_up_instructions"`

	// FormatInstructions reformat the augmented checklist (profile stage).
	FormatInstructions string `yaml:"format_instructions"`

	// DatasetDecision is submitted as the plan_complete tool output so the
	// model grounds its plan in the available datasets (plan stage).
	DatasetDecision string `yaml:"dataset_decision"`
}

// LoadStages loads all three stage configurations. When dir is non-empty,
// YAML files there override the embedded defaults; missing files fall back
// to the defaults.
func LoadStages(dir string) (map[string]*StageConfig, error) {
	stages := make(map[string]*StageConfig, len(stageFiles))
	for name, file := range stageFiles {
		var data []byte
		var err error
		loaded := false

		if dir != "" {
			data, err = os.ReadFile(filepath.Join(dir, file))
			if err == nil {
				loaded = true
			} else if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read stage config %s: %w", file, err)
			}
		}
		if !loaded {
			data, err = defaultStageFS.ReadFile("defaults/" + file)
			if err != nil {
				return nil, fmt.Errorf("embedded stage config %s missing: %w", file, err)
			}
		}

		var sc StageConfig
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to parse stage config %s: %w", file, err)
		}
		if err := sc.Validate(name); err != nil {
			return nil, err
		}
		stages[name] = &sc
	}
	return stages, nil
}

// Validate checks the structural invariants of a stage configuration.
func (sc *StageConfig) Validate(name string) error {
	if sc.Instructions == "" {
		return fmt.Errorf("stage %s: instructions must not be empty", name)
	}
	if sc.CompletionTool != "" {
		if _, ok := sc.AvailableFunctions[sc.CompletionTool]; !ok {
			return fmt.Errorf("stage %s: completion tool %q not in available_functions", name, sc.CompletionTool)
		}
	}
	for toolName, tc := range sc.AvailableFunctions {
		for _, req := range tc.Required {
			if _, ok := tc.Parameters[req]; !ok {
				return fmt.Errorf("stage %s: tool %s requires undeclared parameter %q", name, toolName, req)
			}
		}
	}
	return nil
}
