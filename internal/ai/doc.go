// Package ai classifies messages and writes replies with the Gemini
// generative language API.
//
// Every call goes through a circuit breaker. While the breaker is open calls
// fail fast with ErrUnavailable, which the worker treats like any other
// engine failure: the message classifies as NULL and gets no reply.
package ai
