package gmail

import (
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/inboxresponder/internal/message"
)

// convertMessage maps a Gmail message onto the domain model. Top-level
// headers come from the root payload.
func convertMessage(m *gmail.Message) *message.Message {
	out := &message.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		LabelIDs: m.LabelIds,
	}
	if m.Payload == nil {
		return out
	}
	for _, h := range m.Payload.Headers {
		if h == nil {
			continue
		}
		out.Headers = append(out.Headers, message.Header{Name: h.Name, Value: h.Value})
	}
	out.Payload = convertPart(m.Payload)
	return out
}

// convertPart builds the part tree. A part with children, or a multipart
// media type, becomes a Branch; everything else is a Leaf carrying the
// still-encoded body. Attachment bodies are not fetched.
func convertPart(p *gmail.MessagePart) message.Part {
	mediaType := strings.ToLower(p.MimeType)
	if len(p.Parts) > 0 || strings.HasPrefix(mediaType, "multipart/") {
		children := make([]message.Part, 0, len(p.Parts))
		for _, child := range p.Parts {
			if child == nil {
				continue
			}
			children = append(children, convertPart(child))
		}
		return message.Branch{MediaType: mediaType, Children: children}
	}

	leaf := message.Leaf{MediaType: mediaType}
	if p.Body != nil && p.Body.AttachmentId == "" {
		leaf.Body = p.Body.Data
	}
	return leaf
}
