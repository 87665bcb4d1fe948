package mail

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
)

// ErrUnauthorized is returned when the mail service rejects the token.
var ErrUnauthorized = errors.New("mail service rejected the credential")

// TokenSource supplies a bearer credential on demand.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	Sender           recipient `json:"sender"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	Body             itemBody  `json:"body"`
	BodyPreview      string    `json:"bodyPreview"`
	ConversationID   string    `json:"conversationId"`
}

type messageList struct {
	Value []graphMessage `json:"value"`
}

// GraphClient is a thin client for the mailbox endpoints of the Graph API.
type GraphClient struct {
	http   *resty.Client
	tokens TokenSource
}

// NewGraphClient creates a GraphClient for baseURL, e.g. https://graph.microsoft.com/v1.0.
func NewGraphClient(baseURL string, tokens TokenSource) *GraphClient {
	return &GraphClient{
		http:   resty.New().SetBaseURL(strings.TrimSuffix(baseURL, "/")).SetHeader("Accept", "application/json"),
		tokens: tokens,
	}
}

func (c *GraphClient) list(ctx context.Context, path string, params map[string]string) ([]graphMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w", err)
	}

	var out messageList
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(params).
		SetResult(&out).
		ForceContentType("application/json").
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, errors.WithHint(fmt.Errorf("GET %s: %w", path, ErrUnauthorized),
			"Sign in again with: ovenmitt --auth")
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s: unexpected status code: %d", path, resp.StatusCode())
	}
	return out.Value, nil
}

// UnreadInbox returns up to top unread inbox messages, newest first.
func (c *GraphClient) UnreadInbox(ctx context.Context, top int) ([]graphMessage, error) {
	return c.list(ctx, "/me/mailFolders/inbox/messages", map[string]string{
		"$filter":  "isRead eq false",
		"$orderby": "receivedDateTime desc",
		"$top":     strconv.Itoa(top),
		"$select":  "id,subject,sender,receivedDateTime,body,conversationId",
	})
}

// Thread returns up to top messages of a conversation, newest first.
func (c *GraphClient) Thread(ctx context.Context, conversationID string, top int) ([]graphMessage, error) {
	return c.list(ctx, "/me/messages", map[string]string{
		"$filter":  fmt.Sprintf("conversationId eq '%s'", strings.ReplaceAll(conversationID, "'", "''")),
		"$orderby": "receivedDateTime desc",
		"$top":     strconv.Itoa(top),
		"$select":  "id,sender,receivedDateTime,bodyPreview",
	})
}
