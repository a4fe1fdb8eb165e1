package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/sandbox"
	"github.com/akmatori/autoheal/internal/utils"
)

// blockedEnvVars are never forwarded to the sandbox, whatever the project configures
var blockedEnvVars = map[string]bool{
	"DATABASE_URL":    true,
	"JWT_SECRET":      true,
	"SECRET_KEY":      true,
	"ADMIN_PASSWORD":  true,
	"OPENAI_API_KEY":  true,
	"INGEST_API_KEYS": true,
}

// filterVerifyEnv drops blocked variables from the project environment
func filterVerifyEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	filtered := make(map[string]string, len(env))
	for k, v := range env {
		if blockedEnvVars[strings.ToUpper(k)] {
			log.Printf("Verify: dropping blocked environment variable %s", k)
			continue
		}
		filtered[k] = v
	}
	return filtered
}

// VerifyStep runs the current patch through the sandbox
type VerifyStep struct {
	verifier Verifier
	secrets  SecretGetter
}

// NewVerifyStep creates a new VerifyStep. secrets may be nil.
func NewVerifyStep(verifier Verifier, secrets SecretGetter) *VerifyStep {
	return &VerifyStep{verifier: verifier, secrets: secrets}
}

func (s *VerifyStep) Name() database.AgentName { return database.AgentVerify }

// Run verifies the patch stored on the incident. A failing check is a result
// with Success=false, not an error; errors mean the sandbox could not answer.
func (s *VerifyStep) Run(ctx context.Context, input StepInput) (*StepResult, error) {
	meta := input.Incident.Metadata
	if meta.Patch == nil || len(meta.Patch.FileUpdates) == 0 {
		return nil, errors.New("no patch to verify")
	}

	token := ""
	if s.secrets != nil {
		value, ok, err := s.secrets.Get(ctx, input.Incident.ProjectID, database.SecretKindSandboxToken)
		if err != nil {
			log.Printf("Verify: failed to load sandbox token for project %s: %v", input.Incident.ProjectID, err)
		} else if ok {
			token = value
		}
	}

	env := filterVerifyEnv(meta.VerifyEnv)
	secretValues := []string{token}
	for _, v := range env {
		secretValues = append(secretValues, v)
	}
	redactor := utils.NewRedactor(secretValues...)

	input.log(fmt.Sprintf("verifying patch (attempt %d, %d files)", input.Attempt, len(meta.Patch.FileUpdates)))
	res, err := s.verifier.Verify(ctx, sandbox.Request{
		IncidentID: input.Incident.ID,
		Repository: meta.Repository(),
		BaseBranch: meta.BaseBranch,
		Branch:     meta.Branch,
		Files:      meta.Patch.FileUpdates,
		Env:        env,
		Token:      token,
	}, func(line string) {
		input.log(redactor.Redact(utils.SanitizeLogLine(line)))
	})
	if err != nil {
		return nil, fmt.Errorf("verification could not run: %w", err)
	}

	logs := make([]string, len(res.Logs))
	for i, line := range res.Logs {
		logs[i] = redactor.Redact(utils.SanitizeLogLine(line))
	}
	redacted := &sandbox.Result{Success: res.Success, Logs: logs}

	thoughts := "verification passed"
	if !res.Success {
		thoughts = "verification failed"
	}

	return &StepResult{
		Thoughts: thoughts,
		Output: database.JSONB{
			"success":   res.Success,
			"log_lines": len(logs),
			"log_tail":  strings.Join(utils.TailLines(logs, 20), "\n"),
		},
		Verify: redacted,
	}, nil
}
