package message

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// noReplyMarkers identify automated senders that must never get a reply.
var noReplyMarkers = []string{"no-reply", "noreply", "no_reply", "donotreply", "do-not-reply"}

// SenderAddress returns the bare address of a From header value such as
// "Jane Doe <jane@example.com>". It returns "" when no address can be found.
func SenderAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil && addr.Address != "" {
		return addr.Address
	}

	// Malformed display names still tend to carry an angle-bracketed address.
	if start := strings.IndexByte(from, '<'); start >= 0 {
		if end := strings.IndexByte(from[start+1:], '>'); end >= 0 {
			return strings.TrimSpace(from[start+1 : start+1+end])
		}
	}
	if strings.Contains(from, "@") && !strings.ContainsAny(from, " \t<>") {
		return from
	}
	return ""
}

// IsNoReply reports whether the sender looks like an automated no-reply
// address. Each marker is matched case-sensitively on its own.
func IsNoReply(sender string) bool {
	for _, marker := range noReplyMarkers {
		if strings.Contains(sender, marker) {
			return true
		}
	}
	return false
}
