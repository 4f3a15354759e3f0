// Package message models inbound mailbox items and turns their nested MIME
// part tree into normalized plain text.
//
// A part tree is a tagged variant: a Leaf carries a media type and an encoded
// body, a Branch carries child parts. Extract walks the tree depth-first,
// prefers text/plain over text/html, decodes URL-safe base64 bodies and renders
// HTML to its visible text.
//
// Example usage:
//
//	content := message.ExtractContent(msg)
//	if content.Sender == "" || message.IsNoReply(content.Sender) {
//	    return // not worth answering
//	}
//	fmt.Println(content.Body)
package message
