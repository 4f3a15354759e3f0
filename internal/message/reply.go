package message

// Reply is an outbound answer to a captured message.
type Reply struct {
	To      string
	Subject string
	Body    string

	// ThreadID keeps the reply in the original conversation when set.
	ThreadID string
	// InReplyTo is the RFC 5322 Message-ID of the original, angle brackets
	// included. Empty when the original carried none.
	InReplyTo string
}

// Threaded reports whether the reply references an original message.
func (r Reply) Threaded() bool {
	return r.ThreadID != "" || r.InReplyTo != ""
}
