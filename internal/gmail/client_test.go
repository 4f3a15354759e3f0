package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/inboxresponder/internal/labels"
	"github.com/teemow/inboxresponder/internal/message"
)

const apiPrefix = "/gmail/v1/users/me/"

// fakeGmail implements the handful of endpoints the client uses.
type fakeGmail struct {
	mu sync.Mutex

	messages map[string]*gmail.Message
	labels   []*gmail.Label
	sent     []*gmail.Message
	modified map[string]*gmail.ModifyMessageRequest
	queries  []string

	createStatus int
	modifyStatus int
	modifyBody   string
}

func newFakeGmail() *fakeGmail {
	return &fakeGmail{
		messages: make(map[string]*gmail.Message),
		modified: make(map[string]*gmail.ModifyMessageRequest),
	}
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	switch {
	case r.Method == http.MethodGet && path == "messages":
		f.queries = append(f.queries, r.URL.Query().Get("q")+"|"+r.URL.Query().Get("maxResults"))
		resp := gmail.ListMessagesResponse{}
		for id := range f.messages {
			resp.Messages = append(resp.Messages, &gmail.Message{Id: id})
		}
		writeJSON(w, resp)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "messages/"):
		m, ok := f.messages[strings.TrimPrefix(path, "messages/")]
		if !ok {
			writeError(w, http.StatusNotFound, "Requested entity was not found.")
			return
		}
		writeJSON(w, m)

	case r.Method == http.MethodPost && path == "messages/send":
		var m gmail.Message
		_ = json.NewDecoder(r.Body).Decode(&m)
		m.Id = "sent-1"
		f.sent = append(f.sent, &m)
		writeJSON(w, m)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/modify"):
		if f.modifyStatus != 0 {
			writeError(w, f.modifyStatus, f.modifyBody)
			return
		}
		var req gmail.ModifyMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		id := strings.TrimSuffix(strings.TrimPrefix(path, "messages/"), "/modify")
		f.modified[id] = &req
		writeJSON(w, gmail.Message{Id: id})

	case r.Method == http.MethodGet && path == "labels":
		writeJSON(w, gmail.ListLabelsResponse{Labels: f.labels})

	case r.Method == http.MethodPost && path == "labels":
		if f.createStatus != 0 {
			writeError(w, f.createStatus, "Label name exists or conflicts")
			return
		}
		var l gmail.Label
		_ = json.NewDecoder(r.Body).Decode(&l)
		l.Id = "Label_" + l.Name
		f.labels = append(f.labels, &l)
		writeJSON(w, l)

	default:
		writeError(w, http.StatusNotFound, "unexpected "+r.Method+" "+r.URL.Path)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}

func newTestClient(t *testing.T, fake *fakeGmail) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{RequestsPerSecond: -1}, nil, nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return c
}

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestListMessages(t *testing.T) {
	fake := newFakeGmail()
	fake.messages["m1"] = &gmail.Message{Id: "m1"}
	c := newTestClient(t, fake)

	ids, err := c.ListMessages(context.Background(), "in:inbox -label:PROCESSED", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
	assert.Equal(t, []string{"in:inbox -label:PROCESSED|10"}, fake.queries)
}

func TestListMessages_PageSizeBounds(t *testing.T) {
	c := newTestClient(t, newFakeGmail())

	for _, size := range []int{0, -1, 501} {
		_, err := c.ListMessages(context.Background(), "", size)
		assert.Error(t, err, "size %d", size)
	}
}

func TestGetMessage_ConvertsPartTree(t *testing.T) {
	fake := newFakeGmail()
	fake.messages["m1"] = &gmail.Message{
		Id:       "m1",
		ThreadId: "t1",
		LabelIds: []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Alice <alice@example.com>"},
				{Name: "Subject", Value: "Hello"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("plain body")}},
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<p>html body</p>")}},
					},
				},
				{MimeType: "application/pdf", Filename: "a.pdf", Body: &gmail.MessagePartBody{AttachmentId: "att-1"}},
			},
		},
	}
	c := newTestClient(t, fake)

	m, err := c.GetMessage(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "t1", m.ThreadID)
	assert.Equal(t, []string{"INBOX", "UNREAD"}, m.LabelIDs)
	assert.Equal(t, "Hello", m.Header("subject"))

	want := message.Branch{
		MediaType: "multipart/mixed",
		Children: []message.Part{
			message.Branch{
				MediaType: "multipart/alternative",
				Children: []message.Part{
					message.Leaf{MediaType: "text/plain", Body: encode("plain body")},
					message.Leaf{MediaType: "text/html", Body: encode("<p>html body</p>")},
				},
			},
			message.Leaf{MediaType: "application/pdf"},
		},
	}
	assert.Equal(t, want, m.Payload)

	content := message.ExtractContent(m)
	assert.Equal(t, "alice@example.com", content.Sender)
	assert.Equal(t, "plain body", content.Body)
}

func TestGetMessage_NotFound(t *testing.T) {
	c := newTestClient(t, newFakeGmail())

	_, err := c.GetMessage(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestLabels(t *testing.T) {
	fake := newFakeGmail()
	fake.labels = []*gmail.Label{{Id: "INBOX", Name: "INBOX", Type: "system"}}
	c := newTestClient(t, fake)
	ctx := context.Background()

	created, err := c.CreateLabel(ctx, "PROCESSED")
	require.NoError(t, err)
	assert.Equal(t, labels.Label{ID: "Label_PROCESSED", Name: "PROCESSED"}, created)
	assert.Equal(t, labelListVisibility, fake.labels[1].LabelListVisibility)
	assert.Equal(t, messageListVisibility, fake.labels[1].MessageListVisibility)

	all, err := c.ListLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []labels.Label{
		{ID: "INBOX", Name: "INBOX"},
		{ID: "Label_PROCESSED", Name: "PROCESSED"},
	}, all)
}

func TestCreateLabel_Conflict(t *testing.T) {
	fake := newFakeGmail()
	fake.createStatus = http.StatusConflict
	c := newTestClient(t, fake)

	_, err := c.CreateLabel(context.Background(), "PROCESSED")
	assert.ErrorIs(t, err, labels.ErrLabelExists)
}

func TestModifyMessageLabels(t *testing.T) {
	t.Run("adds labels", func(t *testing.T) {
		fake := newFakeGmail()
		c := newTestClient(t, fake)

		err := c.ModifyMessageLabels(context.Background(), "m1", []string{"Label_1"}, nil)
		require.NoError(t, err)
		require.Contains(t, fake.modified, "m1")
		assert.Equal(t, []string{"Label_1"}, fake.modified["m1"].AddLabelIds)
		assert.Empty(t, fake.modified["m1"].RemoveLabelIds)
	})

	tests := []struct {
		name        string
		status      int
		body        string
		wantUnknown bool
	}{
		{"invalid label", http.StatusBadRequest, "Invalid label: Label_9", true},
		{"label not found", http.StatusNotFound, "Label not found", true},
		{"message not found", http.StatusNotFound, "Requested entity was not found.", false},
		{"permission denied", http.StatusForbidden, "Insufficient Permission", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeGmail()
			fake.modifyStatus = tt.status
			fake.modifyBody = tt.body
			c := newTestClient(t, fake)

			err := c.ModifyMessageLabels(context.Background(), "m1", []string{"Label_9"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantUnknown, errors.Is(err, labels.ErrUnknownLabelID))
		})
	}
}

func TestSendReply(t *testing.T) {
	fake := newFakeGmail()
	c := newTestClient(t, fake)

	err := c.SendReply(context.Background(), message.Reply{
		To:        "alice@example.com",
		Subject:   "Thank For Interest",
		Body:      "Thanks!",
		ThreadID:  "t1",
		InReplyTo: "<orig@mail.example.com>",
	})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "t1", fake.sent[0].ThreadId)

	raw, err := base64.URLEncoding.DecodeString(fake.sent[0].Raw)
	require.NoError(t, err)
	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Thank For Interest", subject)

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "alice@example.com", to[0].Address)

	inReplyTo, err := r.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"orig@mail.example.com"}, inReplyTo)

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "Thanks!", string(body))
}

func TestComposeReply(t *testing.T) {
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unthreaded", func(t *testing.T) {
		raw, err := ComposeReply(message.Reply{To: "bob@example.com", Subject: "Thank You", Body: "Bye"}, date)
		require.NoError(t, err)
		s := string(raw)
		assert.NotContains(t, s, "In-Reply-To")
		assert.NotContains(t, s, "References")
		assert.Contains(t, s, "text/plain")
	})

	t.Run("non-ASCII subject is encoded", func(t *testing.T) {
		raw, err := ComposeReply(message.Reply{To: "bob@example.com", Subject: "Grüße", Body: "x"}, date)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "Grüße\r\n")

		r, err := mail.CreateReader(bytes.NewReader(raw))
		require.NoError(t, err)
		subject, err := r.Header.Subject()
		require.NoError(t, err)
		assert.Equal(t, "Grüße", subject)
	})

	t.Run("missing recipient", func(t *testing.T) {
		_, err := ComposeReply(message.Reply{Subject: "x"}, date)
		assert.Error(t, err)
	})
}
