// Package mail turns unread inbox messages into conversations, each carrying
// the recent messages of its thread as context.
package mail

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/comigor/ovenmitt-go/internal/conversation"
	"github.com/comigor/ovenmitt-go/internal/logger"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// PlainText strips tags and entities from an HTML body and collapses whitespace.
func PlainText(body string) string {
	text := tagPattern.ReplaceAllString(body, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

func bodyText(b itemBody) string {
	if strings.EqualFold(b.ContentType, "text") {
		return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.Content, " "))
	}
	return PlainText(b.Content)
}

// Adapter is the mail source.
type Adapter struct {
	client *GraphClient
	cfg    config.MailConfig
}

// NewAdapter creates a mail Adapter.
func NewAdapter(cfg config.MailConfig, tokens TokenSource) *Adapter {
	return &Adapter{client: NewGraphClient(cfg.GraphURL, tokens), cfg: cfg}
}

// Kind identifies the source.
func (a *Adapter) Kind() conversation.Source { return conversation.SourceMail }

// Fetch lists unread messages newest first and attaches thread context to
// each. Failure to list is returned; failure to load a thread leaves that
// conversation without context.
func (a *Adapter) Fetch(ctx context.Context) ([]conversation.Conversation, error) {
	unread, err := a.client.UnreadInbox(ctx, a.maxItems())
	if err != nil {
		return nil, fmt.Errorf("listing unread mail: %w", err)
	}

	out := make([]conversation.Conversation, 0, len(unread))
	for _, m := range unread {
		if !a.allowed(m.Sender.EmailAddress.Address) {
			logger.L.Debug("skipping sender outside allowed domains", "sender", m.Sender.EmailAddress.Address)
			continue
		}

		thread, err := a.client.Thread(ctx, m.ConversationID, a.threadItems())
		if err != nil {
			logger.L.Warn("thread context unavailable", "message", m.ID, "error", err)
			thread = nil
		}
		out = append(out, toConversation(m, thread))
	}
	return out, nil
}

func (a *Adapter) maxItems() int {
	if a.cfg.MaxItems > 0 {
		return a.cfg.MaxItems
	}
	return 10
}

func (a *Adapter) threadItems() int {
	if a.cfg.ThreadItems > 0 {
		return a.cfg.ThreadItems
	}
	return 5
}

func (a *Adapter) allowed(address string) bool {
	if len(a.cfg.AllowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(address, "@")
	domain := strings.ToLower(address[at+1:])
	for _, d := range a.cfg.AllowedDomains {
		if domain == strings.ToLower(d) {
			return true
		}
	}
	return false
}

func senderName(r recipient) string {
	if r.EmailAddress.Name != "" {
		return r.EmailAddress.Name
	}
	return r.EmailAddress.Address
}

func toConversation(m graphMessage, thread []graphMessage) conversation.Conversation {
	items := make([]conversation.Item, 0, len(thread)+1)
	for _, t := range thread {
		if t.ID == m.ID {
			continue
		}
		items = append(items, conversation.Item{
			ID:        t.ID,
			Sender:    senderName(t.Sender),
			Text:      strings.TrimSpace(t.BodyPreview),
			Timestamp: t.ReceivedDateTime,
		})
	}
	items = append(items, conversation.Item{
		ID:        m.ID,
		Sender:    senderName(m.Sender),
		Text:      bodyText(m.Body),
		Timestamp: m.ReceivedDateTime,
	})
	conversation.SortItems(items)

	subject := m.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	label := m.Sender.EmailAddress.Name
	if label == "" {
		label = m.Sender.EmailAddress.Address
	} else if m.Sender.EmailAddress.Address != "" {
		label = fmt.Sprintf("%s <%s>", label, m.Sender.EmailAddress.Address)
	}

	return conversation.Conversation{
		Source:           conversation.SourceMail,
		ID:               m.ID,
		ParticipantLabel: label,
		Subject:          subject,
		Items:            items,
		TargetID:         m.ID,
		LastActivity:     items[len(items)-1].Timestamp,
	}
}
