package handlers

import (
	"context"
	"log"
	"time"

	slackutil "github.com/akmatori/autoheal/internal/slack"
	"github.com/akmatori/autoheal/internal/workflow"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const decisionTimeout = 30 * time.Second

// DecisionMaker applies approval decisions
type DecisionMaker interface {
	Approve(ctx context.Context, id, actor string) (workflow.Outcome, error)
	Reject(ctx context.Context, id, actor, reason string) (workflow.Outcome, error)
}

// SlackHandler turns Approve/Reject button presses into workflow decisions
type SlackHandler struct {
	decisions DecisionMaker
}

// NewSlackHandler creates a new Slack handler
func NewSlackHandler(decisions DecisionMaker) *SlackHandler {
	return &SlackHandler{decisions: decisions}
}

// HandleSocketMode consumes the events of one Socket Mode connection. It
// matches slack.EventHandler and returns immediately.
func (h *SlackHandler) HandleSocketMode(socketClient *socketmode.Client, _ *slack.Client) {
	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				log.Printf("SlackHandler: Connecting to Slack with Socket Mode...")
			case socketmode.EventTypeConnectionError:
				log.Printf("SlackHandler: Connection failed, retrying later...")
			case socketmode.EventTypeConnected:
				log.Printf("SlackHandler: Connected to Slack with Socket Mode")

			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					log.Printf("SlackHandler: Ignored %+v", evt)
					continue
				}
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
				go h.HandleInteraction(context.Background(), callback)

			case socketmode.EventTypeEventsAPI, socketmode.EventTypeSlashCommand:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()
}

// HandleInteraction applies a decision button press. It reports whether the
// callback carried a decision.
func (h *SlackHandler) HandleInteraction(ctx context.Context, callback slack.InteractionCallback) bool {
	decision, ok := slackutil.ParseDecision(callback)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, decisionTimeout)
	defer cancel()

	var (
		outcome workflow.Outcome
		err     error
	)
	if decision.Approve {
		outcome, err = h.decisions.Approve(ctx, decision.IncidentID, decision.Actor)
	} else {
		outcome, err = h.decisions.Reject(ctx, decision.IncidentID, decision.Actor, "")
	}
	if err != nil {
		log.Printf("SlackHandler: decision on incident %s by %s failed: %v", decision.IncidentID, decision.Actor, err)
		return true
	}
	if !outcome.Applied {
		log.Printf("SlackHandler: decision on incident %s by %s had no effect", decision.IncidentID, decision.Actor)
	}
	return true
}
