// Package stage owns the coarse workflow state machine: which of the three
// stages (profile collection, plan formation, analysis) is active, how its
// instructions are assembled from accumulated state, and how stage
// transitions are performed.
package stage

import (
	"errors"
	"fmt"
	"strings"

	"wildfiregpt/internal/config"
	"wildfiregpt/internal/tools"
)

// ErrUnknownStage is returned when a transition names an unregistered stage.
var ErrUnknownStage = errors.New("unknown stage")

// Name identifies a workflow stage.
type Name string

const (
	// ProfileCollection gathers the client checklist.
	ProfileCollection Name = config.StageProfile

	// PlanFormation drafts and refines the assistance plan.
	PlanFormation Name = config.StagePlan

	// Analysis executes the plan with the data tools.
	Analysis Name = config.StageAnalyst
)

// order is the one-directional happy path.
var order = []Name{ProfileCollection, PlanFormation, Analysis}

// InitArgs carries accumulated state into a stage activation.
type InitArgs struct {
	// Checklist is the client profile text. Carried into every stage after
	// profile collection completes.
	Checklist string

	// Plan is the approved plan text. Carried into analysis.
	Plan string
}

// Stage is one active workflow phase: its configuration, its resolved
// instruction text, and its tool registry.
type Stage struct {
	Name     Name
	Config   *config.StageConfig
	Registry *tools.Registry

	// Instructions is the stage template with accumulated state folded in.
	Instructions string

	// Args preserves the activation arguments for rebuilds.
	Args InitArgs
}

// buildInstructions folds accumulated state into the stage template, the
// same way each assistant composed its instructions in the original flow.
func buildInstructions(name Name, cfg *config.StageConfig, args InitArgs) string {
	var b strings.Builder
	b.WriteString(cfg.Instructions)
	switch name {
	case ProfileCollection:
		checklist := args.Checklist
		if checklist == "" {
			checklist = cfg.InitialChecklist
		}
		b.WriteString("\n")
		b.WriteString(checklist)
	case PlanFormation:
		b.WriteString("\n")
		b.WriteString(args.Checklist)
	case Analysis:
		b.WriteString("\n")
		b.WriteString(args.Checklist)
		b.WriteString("\nHere is your plan to assist your client:\n")
		b.WriteString(args.Plan)
	}
	return b.String()
}

// next returns the stage after name on the happy path.
func next(name Name) (Name, bool) {
	for i, n := range order {
		if n == name && i+1 < len(order) {
			return order[i+1], true
		}
	}
	return "", false
}

// previous returns the stage before name, for the explicit edit action.
func previous(name Name) (Name, bool) {
	for i, n := range order {
		if n == name && i > 0 {
			return order[i-1], true
		}
	}
	return "", false
}

func validName(name Name) error {
	for _, n := range order {
		if n == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownStage, name)
}
