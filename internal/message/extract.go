package message

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// htmlTag matches anything that looks like an opening tag.
var htmlTag = regexp.MustCompile(`(?i)<[a-z][\s\S]*>`)

// candidates holds the encoded bodies found while walking a part tree.
type candidates struct {
	plain string
	html  string
}

// merge overwrites c with every non-empty candidate of o.
func (c candidates) merge(o candidates) candidates {
	if o.plain != "" {
		c.plain = o.plain
	}
	if o.html != "" {
		c.html = o.html
	}
	return c
}

// collect walks p depth-first. Later non-empty candidates replace earlier ones.
func collect(p Part) candidates {
	switch v := p.(type) {
	case Leaf:
		switch mediaType(v.MediaType) {
		case MediaTypePlain:
			return candidates{plain: v.Body}
		case MediaTypeHTML:
			return candidates{html: v.Body}
		}
	case *Leaf:
		if v != nil {
			return collect(*v)
		}
	case Branch:
		var c candidates
		for _, child := range v.Children {
			c = c.merge(collect(child))
		}
		return c
	case *Branch:
		if v != nil {
			return collect(*v)
		}
	}
	return candidates{}
}

// mediaType strips parameters and lowercases a media type.
func mediaType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Extract returns the normalized visible text of a part tree. The plain text
// candidate wins over HTML; an empty string means the tree has no text.
func Extract(root Part) string {
	c := collect(root)

	var raw string
	isHTML := false
	switch {
	case c.plain != "":
		raw = DecodeBody(c.plain)
	case c.html != "":
		raw = DecodeBody(c.html)
		isHTML = true
	default:
		return ""
	}

	if isHTML || LooksLikeHTML(raw) {
		return HTMLToText(raw)
	}
	return Normalize(raw)
}

// LooksLikeHTML reports whether s contains an HTML-like tag.
func LooksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// DecodeBody decodes a URL-safe base64 body. Padded, unpadded and standard
// alphabet input are accepted; undecodable input yields an empty string.
func DecodeBody(data string) string {
	data = strings.TrimSpace(data)
	if data == "" {
		return ""
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(data); err == nil {
			return strings.ToValidUTF8(string(b), "�")
		}
	}
	return ""
}
