package gmail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/labels"
)

// Label visibility used for labels created by the pipeline.
const (
	labelListVisibility   = "labelShow"
	messageListVisibility = "show"
)

// ListLabels lists all labels of the mailbox.
func (c *Client) ListLabels(ctx context.Context) ([]labels.Label, error) {
	var out []labels.Label
	err := c.call(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		resp, err := c.svc.Labels.List(c.user).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to list labels: %w", err)
		}
		out = make([]labels.Label, 0, len(resp.Labels))
		for _, l := range resp.Labels {
			out = append(out, labels.Label{ID: l.Id, Name: l.Name})
		}
		return nil
	})
	return out, err
}

// CreateLabel creates a visible user label. A name conflict returns
// labels.ErrLabelExists.
func (c *Client) CreateLabel(ctx context.Context, name string) (labels.Label, error) {
	var out labels.Label
	err := c.call(ctx, instrumentation.OperationCreate, func(ctx context.Context) error {
		l, err := c.svc.Labels.Create(c.user, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   labelListVisibility,
			MessageListVisibility: messageListVisibility,
		}).Context(ctx).Do()
		if err != nil {
			if apiStatus(err) == http.StatusConflict {
				return fmt.Errorf("create label %q: %w", name, labels.ErrLabelExists)
			}
			return fmt.Errorf("failed to create label %q: %w", name, err)
		}
		out = labels.Label{ID: l.Id, Name: l.Name}
		return nil
	})
	return out, err
}

// ModifyMessageLabels adds and removes label IDs on a message. A rejected
// label ID returns labels.ErrUnknownLabelID.
func (c *Client) ModifyMessageLabels(ctx context.Context, messageID string, add, remove []string) error {
	return c.call(ctx, instrumentation.OperationModify, func(ctx context.Context) error {
		_, err := c.svc.Messages.Modify(c.user, messageID, &gmail.ModifyMessageRequest{
			AddLabelIds:    add,
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		if err != nil {
			if isUnknownLabel(err) {
				return fmt.Errorf("modify message %s: %w", messageID, labels.ErrUnknownLabelID)
			}
			return fmt.Errorf("failed to modify labels of message %s: %w", messageID, err)
		}
		return nil
	})
}

// isUnknownLabel matches Gmail's "Invalid label" and "Label not found"
// responses. A missing message is a plain 404 without a label mention.
func isUnknownLabel(err error) bool {
	switch apiStatus(err) {
	case http.StatusBadRequest, http.StatusNotFound:
		return strings.Contains(strings.ToLower(err.Error()), "label")
	}
	return false
}
