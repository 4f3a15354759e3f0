// Package worker consumes queued jobs one at a time. Each job is validated,
// classified, answered and labeled in a fixed order, and the message always
// ends up with the PROCESSED label once the job reaches a terminal state.
package worker
