package workflow

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/services"
)

// RejectionMessage is the status message of a rejected incident
const RejectionMessage = "rejected: won't fix"

// Outcome reports the effect of an approval decision. Applied is false when
// the incident was no longer awaiting approval; the call is then a no-op.
type Outcome struct {
	Applied  bool
	Incident *database.Incident
}

// Approve resumes an incident held at the approval gate. The resumed workflow
// verifies the stored patch once and opens the pull request.
func (e *Engine) Approve(ctx context.Context, id, actor string) (Outcome, error) {
	actor = normalizeActor(actor)
	now := time.Now()

	updated, applied, err := e.store.Transition(ctx, id, services.StatusChange{
		From:    database.IncidentStatusAwaitingApproval,
		To:      database.IncidentStatusVerifyInProgress,
		Message: "approved by " + actor,
		Mutate: func(meta *database.IncidentMetadata) {
			meta.Approved = true
			meta.ApprovedBy = actor
			meta.ApprovedAt = &now
		},
	})
	if errors.Is(err, services.ErrNotFound) {
		return Outcome{}, ErrIncidentNotFound
	}
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		log.Printf("Workflow: ignoring approval of incident %s by %s, status is %s", id, actor, updated.Status)
		return Outcome{Incident: updated}, nil
	}

	e.record(updated, "approved by "+actor)
	e.replyDecision(ctx, updated, true, actor, "")

	if err := e.launch(id, true); err != nil {
		log.Printf("Workflow: failed to resume approved incident %s: %v", id, err)
	}
	return Outcome{Applied: true, Incident: updated}, nil
}

// Reject closes an incident held at the approval gate without a fix
func (e *Engine) Reject(ctx context.Context, id, actor, reason string) (Outcome, error) {
	actor = normalizeActor(actor)
	reason = strings.TrimSpace(reason)
	now := time.Now()

	updated, applied, err := e.store.Transition(ctx, id, services.StatusChange{
		From:    database.IncidentStatusAwaitingApproval,
		To:      database.IncidentStatusResolved,
		Message: RejectionMessage,
		Mutate: func(meta *database.IncidentMetadata) {
			meta.RejectedBy = actor
			meta.RejectionReason = reason
			meta.RejectedAt = &now
		},
	})
	if errors.Is(err, services.ErrNotFound) {
		return Outcome{}, ErrIncidentNotFound
	}
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		log.Printf("Workflow: ignoring rejection of incident %s by %s, status is %s", id, actor, updated.Status)
		return Outcome{Incident: updated}, nil
	}

	e.record(updated, RejectionMessage)
	e.replyDecision(ctx, updated, false, actor, reason)
	return Outcome{Applied: true, Incident: updated}, nil
}

func normalizeActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "unknown"
	}
	return actor
}
