package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/message"
)

// SendMessage sends an RFC 5322 message. threadID may be empty. It returns
// the ID of the sent message.
func (c *Client) SendMessage(ctx context.Context, raw []byte, threadID string) (string, error) {
	var id string
	err := c.call(ctx, instrumentation.OperationSend, func(ctx context.Context) error {
		sent, err := c.svc.Messages.Send(c.user, &gmail.Message{
			Raw:      base64.URLEncoding.EncodeToString(raw),
			ThreadId: threadID,
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		id = sent.Id
		return nil
	})
	return id, err
}

// SendReply composes and sends a plain text reply.
func (c *Client) SendReply(ctx context.Context, reply message.Reply) error {
	raw, err := ComposeReply(reply, time.Now())
	if err != nil {
		return err
	}
	_, err = c.SendMessage(ctx, raw, reply.ThreadID)
	return err
}

// ComposeReply renders reply as a single-part UTF-8 text message. When the
// original Message-ID is known the reply carries In-Reply-To and References
// so mail clients thread it.
func ComposeReply(reply message.Reply, date time.Time) ([]byte, error) {
	if reply.To == "" {
		return nil, errors.New("reply has no recipient")
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("To", []*mail.Address{{Address: reply.To}})
	h.SetSubject(reply.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if id := strings.Trim(reply.InReplyTo, "<> "); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to write reply header: %w", err)
	}
	if _, err := io.WriteString(w, reply.Body); err != nil {
		return nil, fmt.Errorf("failed to write reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish reply: %w", err)
	}
	return buf.Bytes(), nil
}
