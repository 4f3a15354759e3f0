// Package labels manages mailbox labels: idempotent creation by name,
// cached name to ID resolution and application to messages.
//
// Labels double as the pipeline's idempotency marker, so creation must never
// produce two labels with the same name. Concurrent EnsureLabel calls for one
// name share a single lookup, and an "already exists" answer from the mail
// service resolves to the existing label instead of failing.
package labels
