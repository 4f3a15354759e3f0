package message

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		root Part
		want string
	}{
		{
			name: "single plain leaf at the root",
			root: Leaf{MediaType: "text/plain", Body: enc("Hello there")},
			want: "Hello there",
		},
		{
			name: "plain preferred over html",
			root: Branch{MediaType: "multipart/alternative", Children: []Part{
				Leaf{MediaType: "text/html", Body: enc("<p>HTML body</p>")},
				Leaf{MediaType: "text/plain", Body: enc("Plain body")},
			}},
			want: "Plain body",
		},
		{
			name: "nested plain leaf wins over top level html",
			root: Branch{MediaType: "multipart/mixed", Children: []Part{
				Leaf{MediaType: "text/html", Body: enc("<b>ignored</b>")},
				Branch{MediaType: "multipart/alternative", Children: []Part{
					Leaf{MediaType: "text/plain; charset=UTF-8", Body: enc("deep   plain\r\n\r\ntext")},
				}},
			}},
			want: "deep plain text",
		},
		{
			name: "last plain candidate along the walk wins",
			root: Branch{MediaType: "multipart/mixed", Children: []Part{
				Leaf{MediaType: "text/plain", Body: enc("first")},
				Branch{MediaType: "multipart/alternative", Children: []Part{
					Leaf{MediaType: "text/plain", Body: enc("second")},
				}},
			}},
			want: "second",
		},
		{
			name: "empty child candidate does not overwrite",
			root: Branch{MediaType: "multipart/mixed", Children: []Part{
				Leaf{MediaType: "text/plain", Body: enc("kept")},
				Branch{MediaType: "multipart/alternative", Children: []Part{
					Leaf{MediaType: "text/plain", Body: ""},
				}},
			}},
			want: "kept",
		},
		{
			name: "html only renders visible text",
			root: Branch{MediaType: "multipart/alternative", Children: []Part{
				Leaf{MediaType: "text/html", Body: enc(`<html><head><title>t</title><style>p{color:red}</style></head>` +
					`<body><p>Hello <b>World</b></p><script>alert(1)</script><div>Bye &amp; thanks</div></body></html>`)},
			}},
			want: "Hello World Bye & thanks",
		},
		{
			name: "html sniffed inside plain part",
			root: Leaf{MediaType: "text/plain", Body: enc("<div>Looks <i>like</i> html</div>")},
			want: "Looks like html",
		},
		{
			name: "attachments only",
			root: Branch{MediaType: "multipart/mixed", Children: []Part{
				Leaf{MediaType: "application/pdf", Body: enc("%PDF")},
			}},
			want: "",
		},
		{
			name: "nil root",
			root: nil,
			want: "",
		},
		{
			name: "pointer variants",
			root: &Branch{Children: []Part{&Leaf{MediaType: "text/plain", Body: enc("via pointers")}}},
			want: "via pointers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.root))
		})
	}
}

func TestExtract_NoMarkupSurvives(t *testing.T) {
	bodies := []string{
		`<p>a</p><p>b</p>`,
		`<table><tr><td>cell</td></tr></table>`,
		`<!DOCTYPE html><html><body><!-- hidden --><span>x</span></body></html>`,
		`<div><noscript>no</noscript><a href="https://example.com">link</a></div>`,
	}
	for _, body := range bodies {
		got := Extract(Leaf{MediaType: "text/html", Body: enc(body)})
		assert.NotContains(t, got, "<", body)
		assert.NotContains(t, got, ">", body)
		assert.NotContains(t, got, "hidden", body)
	}
}

func TestDecodeBody(t *testing.T) {
	text := "Grüße?>>"
	tests := []struct {
		name string
		data string
	}{
		{"url padded", base64.URLEncoding.EncodeToString([]byte(text))},
		{"url raw", base64.RawURLEncoding.EncodeToString([]byte(text))},
		{"standard", base64.StdEncoding.EncodeToString([]byte(text))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, text, DecodeBody(tt.data))
		})
	}

	assert.Equal(t, "", DecodeBody("***not base64***"))
	assert.Equal(t, "", DecodeBody(""))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tabs and spaces", "a\t\t b  c", "a b c"},
		{"crlf", "a\r\nb\rc\nd", "a b c d"},
		{"line break inside a run", "a \r\n\t b", "a b"},
		{"unicode space", "a\u00a0\u2003b", "a b"},
		{"blank lines", "a\n\n\n  \n b", "a b"},
		{"trim", "  \n a \n ", "a"},
		{"only whitespace", " \t\r\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Hello\t\tworld",
		"line one\r\n\r\n\r\nline two",
		"  lead and trail  ",
		"mixed \r\n\t \n  breaks\v\fand spaces",
		strings.Repeat("x \n", 10),
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestExtractContent(t *testing.T) {
	m := &Message{
		ID: "m1",
		Headers: []Header{
			{Name: "Subject", Value: "Hi"},
			{Name: "from", Value: "Jane Doe <jane@example.com>"},
		},
		Payload: Leaf{MediaType: "text/plain", Body: enc("I am very interested")},
	}

	got := ExtractContent(m)
	assert.Equal(t, "jane@example.com", got.Sender)
	assert.Equal(t, "I am very interested", got.Body)
}
