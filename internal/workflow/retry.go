package workflow

import (
	"context"
	"fmt"
	"log"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/metrics"
)

// selfHeal runs the bounded verify/patch loop of the auto-fix path. Attempt 1
// verifies the existing patch; each later attempt first regenerates the patch
// from the previous verification logs. The loop resumes after the last
// recorded attempt so a restart never exceeds the budget.
func (e *Engine) selfHeal(ctx context.Context, inc *database.Incident) *database.Incident {
	maxAttempts := e.cfg.MaxVerifyAttempts

	for attempt := inc.Metadata.VerifyAttempts + 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			priorLogs := inc.Metadata.LastVerifyLogs
			if len(priorLogs) == 0 {
				priorLogs = []string{"previous verification failed without output"}
			}
			log.Printf("Workflow: regenerating patch for incident %s before verify attempt %d/%d", inc.ID, attempt, maxAttempts)
			next, ok := e.generatePatch(ctx, inc, priorLogs)
			if !ok {
				return nil
			}
			inc = next
		}

		next, result, err := e.verifyOnce(ctx, inc, attempt)
		inc = next
		if err != nil {
			if e.interrupted() {
				return nil
			}
			// The sandbox could not answer; the attempt still counts.
			logs := []string{fmt.Sprintf("verification could not run: %v", err)}
			if updated, uerr := e.store.UpdateMetadata(ctx, inc.ID, func(meta *database.IncidentMetadata) {
				meta.VerifyAttempts = attempt
				meta.LastVerifyLogs = logs
			}); uerr == nil {
				inc = updated
			} else {
				inc.Metadata.VerifyAttempts = attempt
				inc.Metadata.LastVerifyLogs = logs
			}
			continue
		}

		if result.Success {
			metrics.ObserveVerifyAttempts(attempt)
			log.Printf("Workflow: incident %s verified on attempt %d/%d", inc.ID, attempt, maxAttempts)
			return e.transition(ctx, inc, database.IncidentStatusPRCreationInProgress, "opening pull request")
		}
		log.Printf("Workflow: verify attempt %d/%d failed for incident %s", attempt, maxAttempts, inc.ID)
	}

	metrics.ObserveVerifyAttempts(maxAttempts)
	e.fail(ctx, inc, fmt.Sprintf("verification failed after %d attempts; retries exhausted", maxAttempts))
	return nil
}
