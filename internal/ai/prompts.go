package ai

import (
	"fmt"

	"github.com/teemow/inboxresponder/internal/triage"
)

func classifyPrompt(text string) string {
	return fmt.Sprintf("Categorize the following email content:\n\n%q\n\n"+
		"Answer with exactly one category: Interested, Not Interested, More information, Neutral", text)
}

func replyPrompt(category triage.Category, text, sender string) string {
	switch category {
	case triage.Interested:
		return fmt.Sprintf("Generate a positive and engaging response email for someone who is interested "+
			"based on the following email content:\n\n%q\nsender: %s", text, sender)
	case triage.NotInterested:
		return fmt.Sprintf("Generate a polite and respectful response email for someone who is not interested "+
			"based on the following email content:\n\n%q\nsender: %s", text, sender)
	case triage.MoreInfoNeeded:
		return fmt.Sprintf("Generate an informative response email providing more details "+
			"based on the following email content:\n\n%q\n\nResponse:", text)
	}
	return fmt.Sprintf("Generate a neutral response email based on the following email content:\n\n%q\n\nResponse:", text)
}
