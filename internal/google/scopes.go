package google

import gmail "google.golang.org/api/gmail/v1"

// Scopes are the OAuth scopes the pipeline needs: reading and labeling
// messages, creating labels, and sending replies.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}
