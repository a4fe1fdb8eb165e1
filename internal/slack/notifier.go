package slack

import (
	"context"
	"fmt"
	"sync"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/output"
	"github.com/slack-go/slack"
)

// Action IDs of the decision buttons
const (
	ActionApprove = "autoheal_approve"
	ActionReject  = "autoheal_reject"
)

// maxSectionText is the Slack limit for a section block's text
const maxSectionText = 3000

// ClientSource hands out the current Slack client, nil when inactive
type ClientSource interface {
	GetClient() *slack.Client
}

// Notifier posts workflow messages to Slack
type Notifier struct {
	source ClientSource

	mu       sync.Mutex
	resolver *ChannelResolver
	resolved *slack.Client
}

// NewNotifier creates a Notifier backed by the given client source
func NewNotifier(source ClientSource) *Notifier {
	return &Notifier{source: source}
}

// clientAndChannel returns the active client and the channel ID for nameOrID.
// The resolver cache is dropped whenever the client is replaced.
func (n *Notifier) clientAndChannel(ctx context.Context, nameOrID string) (*slack.Client, string, error) {
	client := n.source.GetClient()
	if client == nil {
		return nil, "", ErrNotConfigured
	}

	n.mu.Lock()
	if n.resolver == nil || n.resolved != client {
		n.resolver = NewChannelResolver(client)
		n.resolved = client
	}
	resolver := n.resolver
	n.mu.Unlock()

	channel, err := resolver.ResolveChannel(ctx, nameOrID)
	if err != nil {
		return nil, "", err
	}
	return client, channel, nil
}

// SendDecisionRequest posts the root cause and patch summary with Approve and
// Reject buttons and returns a reference for threading replies
func (n *Notifier) SendDecisionRequest(ctx context.Context, channel string, summary output.DecisionSummary) (*database.MessageRef, error) {
	client, channelID, err := n.clientAndChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	text := output.FormatDecisionRequest(summary)
	respChannel, ts, err := client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(summary.Title, false),
		slack.MsgOptionBlocks(DecisionBlocks(summary.IncidentID, text)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to post decision request: %w", err)
	}
	return &database.MessageRef{Channel: respChannel, Timestamp: ts}, nil
}

// ReplyInThread posts text under the referenced message
func (n *Notifier) ReplyInThread(ctx context.Context, ref database.MessageRef, text string) error {
	client := n.source.GetClient()
	if client == nil {
		return ErrNotConfigured
	}
	_, _, err := client.PostMessageContext(ctx, ref.Channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(ref.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to reply in thread: %w", err)
	}
	return nil
}

// Notify posts a standalone message
func (n *Notifier) Notify(ctx context.Context, channel, text string) error {
	client, channelID, err := n.clientAndChannel(ctx, channel)
	if err != nil {
		return err
	}
	if _, _, err := client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// DecisionBlocks builds the approval request: the summary followed by the
// two buttons, both carrying the incident id as value
func DecisionBlocks(incidentID, text string) []slack.Block {
	if runes := []rune(text); len(runes) > maxSectionText {
		text = string(runes[:maxSectionText-3]) + "..."
	}

	approve := slack.NewButtonBlockElement(ActionApprove, incidentID,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false)).
		WithStyle(slack.StylePrimary)
	reject := slack.NewButtonBlockElement(ActionReject, incidentID,
		slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false)).
		WithStyle(slack.StyleDanger)

	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewActionBlock("autoheal_decision_"+incidentID, approve, reject),
	}
}

// Decision is a button press decoded from an interaction callback
type Decision struct {
	IncidentID string
	Approve    bool
	Actor      string
	Ref        database.MessageRef
}

// ParseDecision extracts an approve/reject decision from a block action
// callback. ok is false for unrelated interactions.
func ParseDecision(callback slack.InteractionCallback) (Decision, bool) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return Decision{}, false
	}
	for _, action := range callback.ActionCallback.BlockActions {
		if action == nil || action.Value == "" {
			continue
		}
		if action.ActionID != ActionApprove && action.ActionID != ActionReject {
			continue
		}
		actor := callback.User.Name
		if actor == "" {
			actor = callback.User.ID
		}
		return Decision{
			IncidentID: action.Value,
			Approve:    action.ActionID == ActionApprove,
			Actor:      actor,
			Ref:        database.MessageRef{Channel: callback.Channel.ID, Timestamp: callback.Message.Timestamp},
		}, true
	}
	return Decision{}, false
}
