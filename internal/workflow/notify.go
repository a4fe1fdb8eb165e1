package workflow

import (
	"context"
	"errors"
	"log"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/output"
)

// Notifier delivers chat messages. Implementations return an error when chat
// is not configured; the engine logs it and carries on.
type Notifier interface {
	SendDecisionRequest(ctx context.Context, channel string, summary output.DecisionSummary) (*database.MessageRef, error)
	ReplyInThread(ctx context.Context, ref database.MessageRef, text string) error
	Notify(ctx context.Context, channel, text string) error
}

// channelFor returns the chat channel of the incident's project, or "" if none
func (e *Engine) channelFor(ctx context.Context, inc *database.Incident) string {
	if e.notifier == nil || e.projects == nil || inc.ProjectID == "" {
		return ""
	}
	project, err := e.projects.Get(ctx, inc.ProjectID)
	if err != nil {
		log.Printf("Workflow: failed to load project %s for notification: %v", inc.ProjectID, err)
		return ""
	}
	return project.SlackChannel
}

// requestApproval asks the project channel for a decision and stores the
// message reference so later replies are threaded. Without a channel the
// decision can only be made through the API.
func (e *Engine) requestApproval(ctx context.Context, inc *database.Incident) {
	channel := e.channelFor(ctx, inc)
	if channel == "" {
		log.Printf("Workflow: incident %s awaits approval; no chat channel configured", inc.ID)
		return
	}
	if current, err := e.store.Get(ctx, inc.ID); err == nil && current.Status != database.IncidentStatusAwaitingApproval {
		log.Printf("Workflow: incident %s decided before the decision request was sent", inc.ID)
		return
	}

	nctx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()

	ref, err := e.notifier.SendDecisionRequest(nctx, channel, output.NewDecisionSummary(inc))
	if err != nil {
		log.Printf("Workflow: failed to send decision request for incident %s: %v", inc.ID, err)
		return
	}
	if ref == nil {
		return
	}

	setRef := func(meta *database.IncidentMetadata) { meta.ApprovalMessage = ref }
	updated, applied, err := e.store.UpdateMetadataIn(ctx, inc.ID, database.IncidentStatusAwaitingApproval, setRef)
	if err != nil {
		log.Printf("Workflow: failed to store decision request for incident %s: %v", inc.ID, err)
		return
	}
	if !applied {
		e.closeDecisionRequest(ctx, updated, ref)
		return
	}
	e.cache.Put(updated)
}

// closeDecisionRequest answers a decision request whose incident was decided
// while the request was being sent, so its buttons are not left dangling
func (e *Engine) closeDecisionRequest(ctx context.Context, inc *database.Incident, ref *database.MessageRef) {
	meta := inc.Metadata
	if meta.Approved {
		// Outcome notifications of the resumed workflow thread under it
		if updated, err := e.store.UpdateMetadata(ctx, inc.ID, func(m *database.IncidentMetadata) {
			m.ApprovalMessage = ref
		}); err == nil {
			inc = updated
		}
	}
	decided := *inc
	decided.Metadata.ApprovalMessage = ref
	if meta.Approved {
		e.replyDecision(ctx, &decided, true, meta.ApprovedBy, "")
	} else {
		e.replyDecision(ctx, &decided, false, meta.RejectedBy, meta.RejectionReason)
	}
}

// notifyOutcome posts the final status, threaded under the decision request when there was one
func (e *Engine) notifyOutcome(ctx context.Context, inc *database.Incident) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()

	text := output.FormatStatusUpdate(inc)
	var err error
	if ref := inc.Metadata.ApprovalMessage; ref != nil {
		err = e.notifier.ReplyInThread(nctx, *ref, text)
	} else if channel := e.channelFor(nctx, inc); channel != "" {
		err = e.notifier.Notify(nctx, channel, text)
	}
	if err != nil {
		log.Printf("Workflow: failed to notify outcome of incident %s: %v", inc.ID, err)
	}
}

// replyDecision posts the approve/reject reply under the decision request
func (e *Engine) replyDecision(ctx context.Context, inc *database.Incident, approved bool, actor, reason string) {
	ref := inc.Metadata.ApprovalMessage
	if e.notifier == nil || ref == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()

	if err := e.notifier.ReplyInThread(nctx, *ref, output.FormatDecisionReply(approved, actor, reason)); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Workflow: failed to reply to decision request for incident %s: %v", inc.ID, err)
	}
}
