// Package logging provides structured logging utilities for inboxresponder.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger scoped to a job:
//
//	logger := logging.WithJob(base, job.ID, job.MessageID, job.Attempt)
//	logger.Info("message classified",
//	    logging.Category("INTERESTED"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("reply sent",
//	    logging.Sender(job.Sender))
//
// # Security Considerations
//
// Sender addresses are hashed to prevent PII leakage while allowing
// correlation. Message bodies and tokens are never logged.
package logging
