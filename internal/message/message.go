package message

import "strings"

// Media types the extractor recognizes.
const (
	MediaTypePlain = "text/plain"
	MediaTypeHTML  = "text/html"
)

// Part is one node of a message's content tree. It is implemented by Leaf and
// Branch only.
type Part interface {
	isPart()
}

// Leaf is a part with an encoded body and no children.
type Leaf struct {
	MediaType string
	// Body is the URL-safe base64 encoded content as delivered by the mail service.
	Body string
}

// Branch is a multipart container.
type Branch struct {
	MediaType string
	Children  []Part
}

func (Leaf) isPart()   {}
func (Branch) isPart() {}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// Message is a read-only view of one mailbox item.
type Message struct {
	ID       string
	ThreadID string
	LabelIDs []string
	Headers  []Header
	Payload  Part
}

// Header returns the first value of the named header. Header names are
// compared case-insensitively.
func (m *Message) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HasLabel reports whether the message carries the label ID.
func (m *Message) HasLabel(labelID string) bool {
	for _, id := range m.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}

// Content is the text derived from a message.
type Content struct {
	// Sender is the bare sender address, empty when it could not be determined.
	Sender string
	// Body is the normalized plain text body, empty when the message has none.
	Body string
}

// ExtractContent returns the sender address and normalized body of m.
func ExtractContent(m *Message) Content {
	return Content{
		Sender: SenderAddress(m.Header("From")),
		Body:   Extract(m.Payload),
	}
}
