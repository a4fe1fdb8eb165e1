package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
	"github.com/akmatori/autoheal/internal/executor"
	"github.com/akmatori/autoheal/internal/metrics"
	"github.com/akmatori/autoheal/internal/services"
	"github.com/akmatori/autoheal/internal/utils"
)

// maxStoredVerifyLogs caps the verification log tail kept in metadata
const maxStoredVerifyLogs = 200

// drive advances the incident from its persisted position until it reaches a
// terminal status, suspends for approval, or a transition is refused.
func (e *Engine) drive(ctx context.Context, inc *database.Incident) {
	for inc != nil && !inc.Status.IsTerminal() {
		switch inc.Status {
		case database.IncidentStatusOpen:
			inc = e.transition(ctx, inc, database.IncidentStatusRCAInProgress, "analyzing root cause")
		case database.IncidentStatusRCAInProgress:
			inc = e.stageRCA(ctx, inc)
		case database.IncidentStatusPatchInProgress:
			inc = e.stagePatch(ctx, inc)
		case database.IncidentStatusVerifyInProgress:
			inc = e.stageVerify(ctx, inc)
		case database.IncidentStatusPRCreationInProgress:
			inc = e.stagePR(ctx, inc)
		case database.IncidentStatusAwaitingApproval:
			return
		default:
			log.Printf("Workflow: incident %s has unknown status %s", inc.ID, inc.Status)
			return
		}
	}
}

// stageRCA runs root cause analysis. Failure is logged and the workflow
// continues without a root cause.
func (e *Engine) stageRCA(ctx context.Context, inc *database.Incident) *database.Incident {
	res, err := e.runStep(ctx, e.rca, inc, 1, nil)
	if err != nil {
		if e.interrupted() {
			return nil
		}
		log.Printf("Workflow: root cause analysis failed for incident %s, continuing without it: %v", inc.ID, err)
		e.hub.LogLine(inc.ProjectID, inc.ID, events.SeverityWarn, string(database.AgentRCA), "root cause analysis failed; continuing without it")
	} else {
		updated, err := e.store.UpdateMetadata(ctx, inc.ID, func(meta *database.IncidentMetadata) {
			meta.RootCause = res.RootCause
		})
		if err != nil {
			log.Printf("Workflow: failed to save root cause for incident %s: %v", inc.ID, err)
		} else {
			inc = updated
		}
	}
	return e.transition(ctx, inc, database.IncidentStatusPatchInProgress, "generating patch")
}

// stagePatch generates the first patch and routes the incident to the
// auto-fix loop or the approval gate.
func (e *Engine) stagePatch(ctx context.Context, inc *database.Incident) *database.Incident {
	inc, ok := e.generatePatch(ctx, inc, nil)
	if !ok {
		return nil
	}

	if inc.Metadata.RequiresApproval() {
		next := e.transition(ctx, inc, database.IncidentStatusAwaitingApproval, "awaiting approval")
		if next != nil {
			e.requestApproval(ctx, next)
		}
		return next
	}
	return e.transition(ctx, inc, database.IncidentStatusVerifyInProgress, "verifying patch")
}

// generatePatch runs the Patch step and persists the result. Any failure is terminal.
func (e *Engine) generatePatch(ctx context.Context, inc *database.Incident, priorFailureLogs []string) (*database.Incident, bool) {
	attempt := inc.Metadata.PatchAttempts + 1
	res, err := e.runStep(ctx, e.patch, inc, attempt, priorFailureLogs)
	if err != nil {
		reason := "patch generation failed"
		if len(priorFailureLogs) > 0 {
			reason = "patch regeneration failed"
		}
		e.fail(ctx, inc, fmt.Sprintf("%s: %v", reason, err))
		return nil, false
	}

	updated, err := e.store.UpdateMetadata(ctx, inc.ID, func(meta *database.IncidentMetadata) {
		meta.Patch = res.Patch
		meta.PatchAttempts = attempt
	})
	if err != nil {
		e.fail(ctx, inc, fmt.Sprintf("failed to save patch: %v", err))
		return nil, false
	}
	return updated, true
}

// stageVerify verifies once after an approval, or runs the self-healing loop
func (e *Engine) stageVerify(ctx context.Context, inc *database.Incident) *database.Incident {
	if !inc.Metadata.Approved {
		return e.selfHeal(ctx, inc)
	}

	attempt := inc.Metadata.VerifyAttempts + 1
	inc, result, err := e.verifyOnce(ctx, inc, attempt)
	if err != nil {
		if !e.interrupted() {
			e.fail(ctx, inc, fmt.Sprintf("verification could not run after approval: %v", err))
		}
		return nil
	}
	metrics.ObserveVerifyAttempts(attempt)
	if !result.Success {
		e.fail(ctx, inc, "verification failed after approval")
		return nil
	}
	return e.transition(ctx, inc, database.IncidentStatusPRCreationInProgress, "opening pull request")
}

// verifyOnce runs one Verify step and records the attempt and its logs.
// Failing checks return a result with Success=false and a nil error.
func (e *Engine) verifyOnce(ctx context.Context, inc *database.Incident, attempt int) (*database.Incident, *verifyOutcome, error) {
	res, err := e.runStep(ctx, e.verify, inc, attempt, nil)
	if err != nil {
		return inc, nil, err
	}

	outcome := &verifyOutcome{Success: res.Verify.Success, Logs: res.Verify.Logs}
	updated, uerr := e.store.UpdateMetadata(ctx, inc.ID, func(meta *database.IncidentMetadata) {
		meta.VerifyAttempts = attempt
		meta.LastVerifyLogs = utils.TailLines(outcome.Logs, maxStoredVerifyLogs)
	})
	if uerr != nil {
		log.Printf("Workflow: failed to record verify attempt %d for incident %s: %v", attempt, inc.ID, uerr)
		inc.Metadata.VerifyAttempts = attempt
		inc.Metadata.LastVerifyLogs = utils.TailLines(outcome.Logs, maxStoredVerifyLogs)
		return inc, outcome, nil
	}
	return updated, outcome, nil
}

type verifyOutcome struct {
	Success bool
	Logs    []string
}

// stagePR publishes the verified patch and resolves the incident
func (e *Engine) stagePR(ctx context.Context, inc *database.Incident) *database.Incident {
	res, err := e.runStep(ctx, e.pr, inc, 1, nil)
	if err != nil {
		if !e.interrupted() {
			e.fail(ctx, inc, fmt.Sprintf("pull request creation failed: %v", err))
		}
		return nil
	}

	updated, err := e.store.UpdateMetadata(ctx, inc.ID, func(meta *database.IncidentMetadata) {
		meta.PullRequestURL = res.PullRequest.HTMLURL
		meta.PullRequestBranch = res.Branch
	})
	if err != nil {
		log.Printf("Workflow: failed to save pull request for incident %s: %v", inc.ID, err)
		inc.Metadata.PullRequestURL = res.PullRequest.HTMLURL
		inc.Metadata.PullRequestBranch = res.Branch
	} else {
		inc = updated
	}

	resolved := e.transition(ctx, inc, database.IncidentStatusResolved, "pull request opened: "+res.PullRequest.HTMLURL)
	if resolved != nil {
		e.notifyOutcome(ctx, resolved)
	}
	return resolved
}

// runStep executes one step with its own AgentRun record and timeout
func (e *Engine) runStep(ctx context.Context, step executor.Step, inc *database.Incident, attempt int, priorFailureLogs []string) (res *executor.StepResult, err error) {
	agent := step.Name()
	run, err := e.store.StartRun(ctx, inc.ID, agent, attempt)
	if err != nil {
		return nil, err
	}
	e.hub.AgentRunRecorded(inc.ProjectID, run)

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.timeoutFor(agent))
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.finishRun(ctx, inc, run, database.AgentRunFailed, fmt.Sprintf("panic: %v", r), database.JSONB{"error": fmt.Sprint(r)})
			panic(r)
		}
	}()

	res, err = step.Run(stepCtx, executor.StepInput{
		Incident:         inc,
		Attempt:          attempt,
		PriorFailureLogs: priorFailureLogs,
		OnLog: func(line string) {
			e.hub.LogLine(inc.ProjectID, inc.ID, events.SeverityInfo, string(agent), line)
		},
		Checkpoint: func(mutate func(meta *database.IncidentMetadata)) error {
			_, err := e.store.UpdateMetadata(context.WithoutCancel(ctx), inc.ID, mutate)
			return err
		},
	})
	metrics.ObserveStep(string(agent), time.Since(start), err)

	if err != nil {
		log.Printf("Workflow: %s step failed for incident %s (attempt %d): %v", agent, inc.ID, attempt, err)
		e.finishRun(ctx, inc, run, database.AgentRunFailed, err.Error(), database.JSONB{"error": err.Error()})
		return nil, err
	}

	status := database.AgentRunCompleted
	if res.Verify != nil && !res.Verify.Success {
		status = database.AgentRunFailed
	}
	e.finishRun(ctx, inc, run, status, res.Thoughts, res.Output)
	return res, nil
}

func (e *Engine) finishRun(ctx context.Context, inc *database.Incident, run *database.AgentRun, status database.AgentRunStatus, thoughts string, output database.JSONB) {
	applied, err := e.store.FinishRun(context.WithoutCancel(ctx), run, status, thoughts, output)
	if err != nil {
		log.Printf("Workflow: failed to finalize %s run %s: %v", run.AgentName, run.ID, err)
		return
	}
	if applied {
		e.hub.AgentRunRecorded(inc.ProjectID, run)
	}
}

// transition moves the incident to the next status if it is still where the
// engine last saw it. Returns nil when the move is refused.
func (e *Engine) transition(ctx context.Context, inc *database.Incident, to database.IncidentStatus, message string) *database.Incident {
	if !CanTransition(inc.Status, to) {
		log.Printf("Workflow: refusing transition %s -> %s for incident %s", inc.Status, to, inc.ID)
		return nil
	}

	updated, applied, err := e.store.Transition(ctx, inc.ID, services.StatusChange{
		From:    inc.Status,
		To:      to,
		Message: message,
	})
	if err != nil {
		log.Printf("Workflow: %v", err)
		return nil
	}
	if !applied {
		log.Printf("Workflow: incident %s moved to %s concurrently, stopping", inc.ID, updated.Status)
		e.cache.Put(updated)
		return nil
	}
	e.record(updated, message)
	return updated
}

// record publishes a persisted status change
func (e *Engine) record(inc *database.Incident, message string) {
	log.Printf("Workflow: incident %s -> %s (%s)", inc.ID, inc.Status, message)
	metrics.Transition(string(inc.Status))
	e.cache.Put(inc)
	e.hub.IncidentUpdated(inc, message)
}

// fail marks the incident FAILED unless the engine is shutting down, in which
// case the incident stays where it is for recovery.
func (e *Engine) fail(ctx context.Context, inc *database.Incident, message string) {
	if e.interrupted() {
		log.Printf("Workflow: incident %s interrupted in %s by shutdown", inc.ID, inc.Status)
		return
	}
	e.hub.LogLine(inc.ProjectID, inc.ID, events.SeverityError, "workflow", message)
	failed := e.transition(ctx, inc, database.IncidentStatusFailed, message)
	if failed != nil {
		e.notifyOutcome(ctx, failed)
	}
}

// failByID reloads the incident and fails it if it is still failable
func (e *Engine) failByID(id, message string) {
	ctx := context.WithoutCancel(e.ctx)
	inc, err := e.store.Get(ctx, id)
	if err != nil {
		log.Printf("Workflow: failed to load incident %s: %v", id, err)
		return
	}
	if !CanTransition(inc.Status, database.IncidentStatusFailed) {
		return
	}
	e.hub.LogLine(inc.ProjectID, inc.ID, events.SeverityError, "workflow", message)
	if failed := e.transition(ctx, inc, database.IncidentStatusFailed, message); failed != nil {
		e.notifyOutcome(ctx, failed)
	}
}

func (e *Engine) interrupted() bool {
	return e.ctx.Err() != nil
}
