// Package triage defines the vocabulary shared by the poller and the worker:
// response categories, the mailbox labels derived from them and the reply
// subject used for each category.
package triage
