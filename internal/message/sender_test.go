package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSenderAddress(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{"display name", "Jane Doe <jane@example.com>", "jane@example.com"},
		{"quoted display name", `"Doe, Jane" <jane@example.com>`, "jane@example.com"},
		{"bare address", "jane@example.com", "jane@example.com"},
		{"encoded display name", "=?UTF-8?B?SsO8cmdlbg==?= <juergen@example.de>", "juergen@example.de"},
		{"broken display name", "Jane (Sales <jane@example.com>", "jane@example.com"},
		{"empty", "", ""},
		{"no address", "Jane Doe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderAddress(tt.from))
		})
	}
}

func TestIsNoReply(t *testing.T) {
	tests := []struct {
		sender string
		want   bool
	}{
		{"no-reply@x.com", true},
		{"noreply@github.com", true},
		{"billing_no_reply@bank.example", true},
		{"donotreply@shop.example", true},
		{"do-not-reply@shop.example", true},
		{"jane@example.com", false},
		// matching is case-sensitive
		{"NoReply@example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNoReply(tt.sender))
		})
	}

	assert.True(t, IsNoReply(SenderAddress("Bot <no-reply@x.com>")))
}
