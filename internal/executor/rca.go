package executor

import (
	"context"
	"fmt"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/llm"
)

// RCAStep asks the reasoner why the fault happened
type RCAStep struct {
	reasoner Reasoner
}

// NewRCAStep creates a new RCAStep
func NewRCAStep(reasoner Reasoner) *RCAStep {
	return &RCAStep{reasoner: reasoner}
}

func (s *RCAStep) Name() database.AgentName { return database.AgentRCA }

// Run performs root cause analysis
func (s *RCAStep) Run(ctx context.Context, input StepInput) (*StepResult, error) {
	input.log("analyzing root cause")
	rc, err := s.reasoner.Analyze(ctx, llm.NewIncidentContext(input.Incident))
	if err != nil {
		return nil, fmt.Errorf("root cause analysis failed: %w", err)
	}

	output := database.JSONB{"analysis": rc.Analysis}
	if len(rc.Hints) > 0 {
		hints := make(map[string]interface{}, len(rc.Hints))
		for k, v := range rc.Hints {
			hints[k] = v
		}
		output["hints"] = hints
	}

	return &StepResult{
		Thoughts:  rc.Analysis,
		Output:    output,
		RootCause: rc,
	}, nil
}
