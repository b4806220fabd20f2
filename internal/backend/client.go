// Package backend speaks the fetch-response and mutation-command
// contracts of the inbox backend. Snapshot fetches return errors for
// the engine's refresh loop to log and retry; mutation commands are
// fire-and-forget at the call sites: optimistic local update, no
// rollback on failure, the next snapshot heals any divergence.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/voxline/inboxd/internal/store"
	"go.uber.org/zap"
)

// Client is an HTTP client for the inbox backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a backend client for the given base URL.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// FetchSnapshot pulls the current conversation rows for this session.
func (c *Client) FetchSnapshot(ctx context.Context) ([]store.SnapshotRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("build snapshot request: %w", err)
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: HTTP %d", resp.StatusCode)
	}

	var rows []store.SnapshotRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rows, nil
}

type draftBody struct {
	ChatID           string `json:"chatId"`
	InstanceID       string `json:"instanceId"`
	Content          string `json:"content"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
}

// UpsertDraft persists a draft revision.
func (c *Client) UpsertDraft(ctx context.Context, key store.ConversationKey, text, replyTo string) error {
	return c.send(ctx, http.MethodPut, "/v1/drafts", draftBody{
		ChatID:           key.ChatID,
		InstanceID:       key.InstanceID,
		Content:          text,
		ReplyToMessageID: replyTo,
	})
}

// DeleteDraft removes the backend copy of a draft.
func (c *Client) DeleteDraft(ctx context.Context, key store.ConversationKey) error {
	return c.send(ctx, http.MethodDelete, "/v1/drafts", draftBody{
		ChatID:     key.ChatID,
		InstanceID: key.InstanceID,
	})
}

type flagBody struct {
	ChatID     string `json:"chatId"`
	InstanceID string `json:"instanceId"`
	Value      bool   `json:"value"`
}

// SetUnread marks a conversation read or unread on the backend.
func (c *Client) SetUnread(ctx context.Context, key store.ConversationKey, unread bool) error {
	return c.setFlag(ctx, "/v1/conversations/unread", key, unread)
}

// SetPinned updates the pinned flag on the backend.
func (c *Client) SetPinned(ctx context.Context, key store.ConversationKey, v bool) error {
	return c.setFlag(ctx, "/v1/conversations/pin", key, v)
}

// SetFavorite updates the favorite flag on the backend.
func (c *Client) SetFavorite(ctx context.Context, key store.ConversationKey, v bool) error {
	return c.setFlag(ctx, "/v1/conversations/favorite", key, v)
}

// SetMuted updates the muted flag on the backend.
func (c *Client) SetMuted(ctx context.Context, key store.ConversationKey, v bool) error {
	return c.setFlag(ctx, "/v1/conversations/mute", key, v)
}

// SetBlocked updates the blocked flag on the backend.
func (c *Client) SetBlocked(ctx context.Context, key store.ConversationKey, v bool) error {
	return c.setFlag(ctx, "/v1/conversations/block", key, v)
}

func (c *Client) setFlag(ctx context.Context, path string, key store.ConversationKey, v bool) error {
	return c.send(ctx, http.MethodPost, path, flagBody{
		ChatID:     key.ChatID,
		InstanceID: key.InstanceID,
		Value:      v,
	})
}

func (c *Client) send(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
