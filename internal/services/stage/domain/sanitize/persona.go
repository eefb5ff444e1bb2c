package sanitize

import (
	"strings"
)

// Tag is the prefix that identifies a persona's line.
func Tag(persona string) string {
	return "[" + persona + "]"
}

// EnforcePersonaPrefix makes text start with persona's tag. A leading tag
// belonging to any other known persona is removed first.
func EnforcePersonaPrefix(text, persona string, personas []string) string {
	body := StripPersonaTag(text, personas)
	if body == "" {
		return Tag(persona)
	}
	return Tag(persona) + " " + body
}

// StripPersonaTag removes leading persona tags and surrounding space.
func StripPersonaTag(text string, personas []string) string {
	body := strings.TrimSpace(text)
	for {
		stripped := false
		for _, name := range personas {
			tag := Tag(name)
			if len(body) >= len(tag) && strings.EqualFold(body[:len(tag)], tag) {
				body = strings.TrimSpace(strings.TrimPrefix(body[len(tag):], ":"))
				stripped = true
			}
		}
		if !stripped {
			return body
		}
	}
}
