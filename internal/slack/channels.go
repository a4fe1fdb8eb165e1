package slack

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
)

// ConversationLister is the part of the Slack API the resolver needs
type ConversationLister interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// ChannelResolver turns channel names into channel IDs
type ChannelResolver struct {
	lister ConversationLister
	cache  map[string]string // name -> id
	mu     sync.RWMutex
}

// NewChannelResolver creates a new channel resolver
func NewChannelResolver(lister ConversationLister) *ChannelResolver {
	return &ChannelResolver{
		lister: lister,
		cache:  make(map[string]string),
	}
}

// ResolveChannel accepts a channel ID (C01234567890) or a name (#alerts or
// alerts) and returns the channel ID
func (r *ChannelResolver) ResolveChannel(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("channel name/ID is empty")
	}
	if isChannelID(nameOrID) {
		return nameOrID, nil
	}

	name := strings.TrimPrefix(nameOrID, "#")

	r.mu.RLock()
	id, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := r.lookup(ctx, name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[name] = id
	r.mu.Unlock()

	log.Printf("SlackNotifier: resolved channel '%s' to '%s'", name, id)
	return id, nil
}

// lookup pages through public then private conversations
func (r *ChannelResolver) lookup(ctx context.Context, name string) (string, error) {
	for _, kind := range []string{"public_channel", "private_channel"} {
		cursor := ""
		for {
			channels, next, err := r.lister.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				ExcludeArchived: true,
				Limit:           1000,
				Types:           []string{kind},
				Cursor:          cursor,
			})
			if err != nil {
				if kind == "private_channel" {
					log.Printf("SlackNotifier: failed to list private channels: %v", err)
					break
				}
				return "", fmt.Errorf("failed to list channels: %w", err)
			}
			for _, ch := range channels {
				if ch.Name == name {
					return ch.ID, nil
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return "", fmt.Errorf("channel '%s' not found", name)
}

// ClearCache forgets resolved names
func (r *ChannelResolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]string)
}

// isChannelID checks if a string looks like a Slack channel ID:
// C or G followed by upper-case alphanumerics
func isChannelID(s string) bool {
	if len(s) < 9 || len(s) > 15 {
		return false
	}
	if s[0] != 'C' && s[0] != 'G' {
		return false
	}
	for _, c := range s[1:] {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
