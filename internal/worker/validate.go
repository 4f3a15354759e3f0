package worker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/teemow/inboxresponder/internal/queue"
)

// ErrInvalidJob marks a job whose payload can never be processed.
var ErrInvalidJob = errors.New("invalid job")

var tldPattern = regexp.MustCompile(`^[A-Za-z]{2,24}$`)

// Validate checks the captured payload. An empty body is valid; it
// classifies as NULL.
func Validate(job *queue.Job) error {
	if job.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidJob)
	}
	if job.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidJob)
	}
	if !ValidSender(job.Sender) {
		return fmt.Errorf("%w: malformed sender address", ErrInvalidJob)
	}
	return nil
}

// ValidSender reports whether s has a local part, an "@", a dotted domain and
// an alphabetic top-level domain of 2 to 24 letters.
func ValidSender(s string) bool {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	dot := strings.LastIndexByte(domain, '.')
	if dot <= 0 {
		return false
	}
	return tldPattern.MatchString(domain[dot+1:])
}
