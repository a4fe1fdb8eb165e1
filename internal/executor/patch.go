package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/llm"
)

// PatchStep asks the reasoner for a code change
type PatchStep struct {
	reasoner Reasoner
}

// NewPatchStep creates a new PatchStep
func NewPatchStep(reasoner Reasoner) *PatchStep {
	return &PatchStep{reasoner: reasoner}
}

func (s *PatchStep) Name() database.AgentName { return database.AgentPatch }

// Run generates a patch. With PriorFailureLogs set, it regenerates after a failed verification.
func (s *PatchStep) Run(ctx context.Context, input StepInput) (*StepResult, error) {
	if len(input.PriorFailureLogs) > 0 {
		input.log(fmt.Sprintf("regenerating patch (attempt %d) from %d failure log lines", input.Attempt, len(input.PriorFailureLogs)))
	} else {
		input.log("generating patch")
	}

	patch, err := s.reasoner.GeneratePatch(ctx, llm.NewIncidentContext(input.Incident), input.PriorFailureLogs)
	if err != nil {
		return nil, fmt.Errorf("patch generation failed: %w", err)
	}
	if patch == nil || len(patch.FileUpdates) == 0 {
		return nil, errors.New("patch generation returned no file updates")
	}

	files := make([]interface{}, 0, len(patch.FileUpdates))
	for _, f := range patch.FileUpdates {
		files = append(files, f.Path)
	}

	return &StepResult{
		Thoughts: patch.Explanation,
		Output: database.JSONB{
			"explanation": patch.Explanation,
			"files":       files,
			"regenerated": len(input.PriorFailureLogs) > 0,
		},
		Patch: patch,
	}, nil
}
