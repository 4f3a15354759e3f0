// Package poller periodically lists unprocessed inbox messages and enqueues
// one job per message.
//
// A cycle lists up to PageSize messages matching Query, fetches each one,
// extracts sender and body, drops messages from automated senders, and hands
// the rest to the job queue. Cycles never overlap: the tick loop runs them
// synchronously and a manual PollOnce while a cycle is in flight is skipped.
package poller
