// Package conversation holds the source-agnostic conversation shape that both
// adapters produce and the pure functions that turn it into generation input.
package conversation

import (
	"sort"
	"time"
)

// Source identifies where a conversation came from.
type Source string

const (
	SourceMail         Source = "mail"
	SourceLocalMessage Source = "local_message"
)

// Label is the human-facing name used in journal headers and progress output.
func (s Source) Label() string {
	switch s {
	case SourceMail:
		return "Email"
	case SourceLocalMessage:
		return "iMessage"
	default:
		return string(s)
	}
}

// SelfSender marks items written by the operator.
const SelfSender = "me"

// Item is one message inside a conversation.
type Item struct {
	ID        string
	Sender    string
	Text      string
	Timestamp time.Time
}

// Conversation is one thread or chat, normalized at the adapter boundary.
// Items are ordered oldest to newest.
type Conversation struct {
	Source           Source
	ID               string
	ParticipantLabel string
	Subject          string
	Items            []Item
	// TargetID selects the item to answer. Empty means the newest item.
	TargetID     string
	LastActivity time.Time
}

// SortItems orders items oldest first, keeping the relative order of items
// with equal timestamps.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
}

// Target returns the item the draft should answer and its index in Items.
func (c Conversation) Target() (Item, int, bool) {
	if len(c.Items) == 0 {
		return Item{}, -1, false
	}
	if c.TargetID != "" {
		for i, it := range c.Items {
			if it.ID == c.TargetID {
				return it, i, true
			}
		}
		return Item{}, -1, false
	}
	last := len(c.Items) - 1
	return c.Items[last], last, true
}

// NeedsReply reports whether a draft should be produced. Mail is always
// answered; a local chat only when its newest item came from someone else.
func NeedsReply(c Conversation) bool {
	target, _, ok := c.Target()
	if !ok {
		return false
	}
	if c.Source == SourceLocalMessage {
		return target.Sender != SelfSender
	}
	return true
}
