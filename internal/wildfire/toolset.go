package wildfire

import (
	"context"
	"fmt"
	"strings"

	"wildfiregpt/internal/config"
	"wildfiregpt/internal/logging"
	"wildfiregpt/internal/perception"
	"wildfiregpt/internal/stage"
	"wildfiregpt/internal/tools"
)

// Toolset binds the fixture dataset and the LLM client into the per-stage
// registry builders. The builders resolve each tool declared in stage
// configuration to its implementation; declaring an unimplemented tool is a
// configuration error surfaced at activation, not at call time.
type Toolset struct {
	data   *Dataset
	client perception.Client
}

// NewToolset creates the toolset over loaded data and the LLM backend.
func NewToolset(data *Dataset, client perception.Client) *Toolset {
	return &Toolset{data: data, client: client}
}

// Builder returns the registry builder to install on the stage controller
// for every stage.
func (t *Toolset) Builder() stage.RegistryBuilder {
	return func(name stage.Name, cfg *config.StageConfig, args stage.InitArgs) (*tools.Registry, error) {
		registry := tools.NewRegistry()
		for toolName, tc := range cfg.AvailableFunctions {
			execute, err := t.resolve(toolName, cfg, args)
			if err != nil {
				return nil, err
			}
			tool := &tools.Tool{
				Name:        toolName,
				Description: tc.Description,
				Schema:      schemaFromConfig(tc),
				Execute:     execute,
				Appendix:    tc.Appendix,
				Completion:  toolName == cfg.CompletionTool,
			}
			if err := registry.Register(tool); err != nil {
				return nil, err
			}
		}
		return registry, nil
	}
}

// resolve maps a declared tool name to its implementation.
func (t *Toolset) resolve(name string, cfg *config.StageConfig, args stage.InitArgs) (tools.ExecuteFunc, error) {
	switch name {
	case "fire_weather_index":
		return t.data.FireWeatherIndex, nil
	case "long_term_fire_history_records":
		return t.data.LongTermFireHistory, nil
	case "recent_fire_incident_data":
		return t.data.RecentFireIncidents, nil
	case "literature_search":
		return t.data.SearchLiterature, nil
	case "census":
		return t.data.CensusFigures, nil
	case "verify_location_on_map":
		return VerifyLocationOnMap, nil
	case "checklist_complete":
		return t.checklistComplete(cfg, args), nil
	case "plan_complete":
		return t.planComplete(args), nil
	default:
		return nil, fmt.Errorf("stage configuration declares unknown tool %q", name)
	}
}

// followUpNotice is what the model reads back after the first
// checklist_complete pass, steering it into the follow-up round.
const followUpNotice = "Please tell your client that you would like to ask a few follow-up questions to better understand their needs. Then ask the follow-up questions from the checklist one at a time."

// checklistComplete is the profile stage's completion tool. It runs in two
// passes: the first call augments the checklist with follow-up questions and
// restarts the stage so the model asks them; the second call carries the
// finished profile into plan formation.
func (t *Toolset) checklistComplete(cfg *config.StageConfig, args stage.InitArgs) tools.ExecuteFunc {
	return func(ctx context.Context, callArgs map[string]any) (*tools.Result, error) {
		checklist, ok := callArgs["checklist"].(string)
		if !ok || strings.TrimSpace(checklist) == "" {
			return nil, fmt.Errorf("checklist must be a non-empty string")
		}

		if args.Checklist == "" {
			// First pass: no follow-up round has happened yet.
			augmented, err := t.augmentChecklist(ctx, cfg, checklist)
			if err != nil {
				return nil, err
			}
			logging.ToolsDebug("checklist_complete first pass: augmented checklist is %d bytes", len(augmented))
			return &tools.Result{Transition: &tools.Transition{
				Stage:    config.StageProfile,
				Args:     map[string]string{"checklist": augmented},
				FollowUp: followUpNotice,
			}}, nil
		}

		// Second pass: the follow-up round ran against the augmented
		// checklist, the profile is final.
		logging.Tools("Profile collection complete, advancing to plan formation")
		return &tools.Result{Transition: &tools.Transition{
			Stage: config.StagePlan,
			Args:  map[string]string{"checklist": checklist},
		}}, nil
	}
}

// augmentChecklist asks the model for follow-up questions grounded in the
// collected answers, then reformats the combined checklist.
func (t *Toolset) augmentChecklist(ctx context.Context, cfg *config.StageConfig, checklist string) (string, error) {
	followUps, err := t.client.CompleteWithSystem(ctx, cfg.FollowUpInstructions, checklist)
	if err != nil {
		return "", fmt.Errorf("generating follow-up questions: %w", err)
	}
	combined := checklist + "\nFollow-up questions:\n" + followUps
	formatted, err := t.client.CompleteWithSystem(ctx, cfg.FormatInstructions, combined)
	if err != nil {
		return "", fmt.Errorf("formatting augmented checklist: %w", err)
	}
	return formatted, nil
}

// planComplete is the plan stage's completion tool. The approved plan and
// the carried profile move into analysis on a fresh thread.
func (t *Toolset) planComplete(args stage.InitArgs) tools.ExecuteFunc {
	return func(ctx context.Context, callArgs map[string]any) (*tools.Result, error) {
		plan, ok := callArgs["plan"].(string)
		if !ok || strings.TrimSpace(plan) == "" {
			return nil, fmt.Errorf("plan must be a non-empty string")
		}
		logging.Tools("Plan approved, advancing to analysis on a new thread")
		return &tools.Result{Transition: &tools.Transition{
			Stage:     config.StageAnalyst,
			NewThread: true,
			Args: map[string]string{
				"checklist": args.Checklist,
				"plan":      plan,
			},
		}}, nil
	}
}

func schemaFromConfig(tc config.ToolConfig) tools.Schema {
	props := make(map[string]tools.Property, len(tc.Parameters))
	for name, p := range tc.Parameters {
		props[name] = tools.Property{Type: p.Type, Description: p.Description}
	}
	return tools.Schema{Required: tc.Required, Properties: props}
}
