package crmapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/httpx"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

type CreateMessageRequest struct {
	ConversationID string             `json:"-"`
	Content        string             `json:"content"`
	MessageType    models.MessageType `json:"messageType"`
	IsFromContact  bool               `json:"isFromContact"`
	IsInternalNote bool               `json:"isInternalNote,omitempty"`
	AuthorName     string             `json:"authorName,omitempty"`
	AuthorID       string             `json:"authorId,omitempty"`
	CorrelationID  string             `json:"correlationId,omitempty"`
	Metadata       models.Metadata    `json:"-"`
}

type createMessageBody struct {
	CreateMessageRequest
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Client talks to the CRM backend, which owns conversations, messages and quick replies.
type Client interface {
	// ListMessages returns the latest page of a conversation, newest first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error)
	HideMessage(ctx context.Context, messageID string) error
	DeleteSentMessage(ctx context.Context, messageID string) error
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	ListQuickReplies(ctx context.Context) ([]models.QuickReply, error)
}

type crmAPIClient struct {
	client *resty.Client
}

func NewClient(conf *config.Config) Client {
	cfg := conf.CRM
	return &crmAPIClient{
		client: httpx.NewClient(util.RestyOptions{
			BaseURL:    cfg.BaseURL,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			RetryCount: cfg.RetryCount,
		}),
	}
}

func (c *crmAPIClient) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var out []models.Message
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&out).
		Get("/conversations/" + url.PathEscape(conversationID) + "/messages")
	if err := httpx.Check("list_messages", resp, err); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].ConversationID == "" {
			out[i].ConversationID = conversationID
		}
	}
	return out, nil
}

func (c *crmAPIClient) CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error) {
	body := createMessageBody{CreateMessageRequest: req, Metadata: req.Metadata.Flatten()}
	if len(body.Metadata) == 0 {
		body.Metadata = nil
	}

	var out models.Message
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/conversations/" + url.PathEscape(req.ConversationID) + "/messages")
	if err := httpx.Check("create_message", resp, err); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &models.TransferError{Kind: models.TransferServerRejected, Op: "create_message", Status: resp.StatusCode(), Detail: "response has no message id"}
	}
	if out.ConversationID == "" {
		out.ConversationID = req.ConversationID
	}
	if out.CorrelationID == "" {
		out.CorrelationID = req.CorrelationID
	}
	return &out, nil
}

func (c *crmAPIClient) HideMessage(ctx context.Context, messageID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Patch(fmt.Sprintf("/messages/%s/delete-received", url.PathEscape(messageID)))
	return httpx.Check("hide_message", resp, err)
}

func (c *crmAPIClient) DeleteSentMessage(ctx context.Context, messageID string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Patch(fmt.Sprintf("/messages/%s/delete-sent", url.PathEscape(messageID)))
	return httpx.Check("delete_sent_message", resp, err)
}

func (c *crmAPIClient) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var out models.Conversation
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/conversations/" + url.PathEscape(conversationID))
	if err := httpx.Check("get_conversation", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *crmAPIClient) ListQuickReplies(ctx context.Context) ([]models.QuickReply, error) {
	var out []models.QuickReply
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/quick-replies")
	if err := httpx.Check("list_quick_replies", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}
