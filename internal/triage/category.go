package triage

import (
	"errors"
	"strings"
)

// Category is the outcome of classifying an inbound message.
type Category string

const (
	Interested     Category = "INTERESTED"
	NotInterested  Category = "NOT_INTERESTED"
	MoreInfoNeeded Category = "MORE_INFO_NEEDED"
	Neutral        Category = "NEUTRAL"
	// Null means classification failed or there was nothing to classify.
	Null Category = "NULL"
)

// LabelProcessed marks a message as handled. The poller never enqueues a
// message carrying it.
const LabelProcessed = "PROCESSED"

// ErrUnparseable is returned when a classifier answer names no known category.
var ErrUnparseable = errors.New("unparseable classification")

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// NeedsReply reports whether messages of this category get an automated reply
// and a category label.
func (c Category) NeedsReply() bool {
	switch c {
	case Interested, NotInterested, MoreInfoNeeded:
		return true
	}
	return false
}

// Label returns the mailbox label for the category, or "" for categories that
// are not labeled.
func (c Category) Label() string {
	if !c.NeedsReply() {
		return ""
	}
	return string(c)
}

// Subject returns the subject line of the automated reply for the category.
func (c Category) Subject() string {
	switch c {
	case Interested:
		return "Thank For Interest"
	case NotInterested:
		return "Thank You"
	case MoreInfoNeeded:
		return "Reply for More Information"
	}
	return ""
}

// Labels returns every label name the pipeline may apply.
func Labels() []string {
	return []string{Interested.Label(), NotInterested.Label(), MoreInfoNeeded.Label(), LabelProcessed}
}

// ParseCategory maps a free-form classifier answer onto a Category. The
// negative form is checked first because "not interested" contains
// "interested".
func ParseCategory(answer string) (Category, error) {
	s := strings.ToLower(answer)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	switch {
	case s == "":
		return Null, ErrUnparseable
	case strings.Contains(s, "not interested"):
		return NotInterested, nil
	case strings.Contains(s, "more information"), strings.Contains(s, "more info"):
		return MoreInfoNeeded, nil
	case strings.Contains(s, "interested"):
		return Interested, nil
	case strings.Contains(s, "neutral"):
		return Neutral, nil
	}
	return Null, ErrUnparseable
}
