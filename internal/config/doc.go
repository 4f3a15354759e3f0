// Package config loads the runtime configuration.
//
// Values are resolved from built-in defaults, an optional YAML file
// (inboxresponder.yaml), dotenv files, INBOXRESPONDER_* environment
// variables and command line flags, in increasing order of precedence.
// The Gemini API key is also read from GEMINI_API_KEY.
//
// Durations accept Go duration strings ("20s"). The poll interval, enqueue
// delay and inter-job pause can alternatively be given in milliseconds
// through the *_ms keys (pollIntervalMs and friends).
package config
