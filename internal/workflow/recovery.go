package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
)

// RecoveryMode selects what happens to incidents interrupted by a restart
type RecoveryMode string

const (
	// RecoveryResume relaunches interrupted incidents from their persisted status
	RecoveryResume RecoveryMode = "resume"
	// RecoveryFail marks interrupted incidents FAILED
	RecoveryFail RecoveryMode = "fail"
)

// RestartMessage is the status message of incidents failed by RecoveryFail
const RestartMessage = "interrupted by restart"

// ParseRecoveryMode validates a configured mode; empty selects RecoveryResume
func ParseRecoveryMode(s string) (RecoveryMode, error) {
	switch RecoveryMode(s) {
	case "", RecoveryResume:
		return RecoveryResume, nil
	case RecoveryFail:
		return RecoveryFail, nil
	default:
		return "", fmt.Errorf("unknown recovery mode %q", s)
	}
}

// Recover handles incidents left in a workflow-owned status with no goroutine
// driving them. Incidents awaiting approval need no action. Returns the
// number of incidents resumed or failed.
func (e *Engine) Recover(ctx context.Context, mode RecoveryMode) (int, error) {
	incidents, err := e.store.ListByStatus(ctx, resumable...)
	if err != nil {
		return 0, err
	}

	handled := 0
	for i := range incidents {
		inc := &incidents[i]
		switch mode {
		case RecoveryFail:
			e.hub.LogLine(inc.ProjectID, inc.ID, events.SeverityError, "workflow", RestartMessage)
			if failed := e.transition(ctx, inc, database.IncidentStatusFailed, RestartMessage); failed != nil {
				e.notifyOutcome(ctx, failed)
				handled++
			}
		default:
			err := e.launch(inc.ID, false)
			if errors.Is(err, ErrAlreadyRunning) {
				continue
			}
			if err != nil {
				return handled, err
			}
			handled++
		}
	}

	if handled > 0 {
		log.Printf("Workflow: recovery (%s) handled %d interrupted incidents", mode, handled)
	}
	return handled, nil
}
