// Package cmd implements the command-line interface for inboxresponder.
//
// This package provides the following commands:
//   - run: Poll the inbox and process queued messages until interrupted
//   - auth: Authorize access to the Gmail account and store the token
//   - queue: Inspect and repair the job queue (stats, dead, retry)
//   - version: Display version information
//
// The run command is the default command when no subcommand is specified.
package cmd
