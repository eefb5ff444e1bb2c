package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
)

const maxGameLines = 3

// ApplyGameMode reshapes an untagged message body to obey mode.
func ApplyGameMode(body string, mode orchestration.GameMode) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return body
	}
	switch mode {
	case orchestration.ModeOneWord:
		fields := strings.Fields(body)
		word := strings.TrimFunc(fields[0], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
		})
		if word == "" {
			word = fields[0]
		}
		return word
	case orchestration.ModeThreeLines:
		var lines []string
		for _, line := range strings.Split(body, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
			if len(lines) == maxGameLines {
				break
			}
		}
		return strings.Join(lines, "\n")
	case orchestration.ModeYesAnd:
		lower := strings.ToLower(body)
		if strings.HasPrefix(lower, "yes, and") || strings.HasPrefix(lower, "yes and") {
			return body
		}
		return "Yes, and " + lowerFirst(body)
	default:
		return body
	}
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	rest := s[size:]
	next, _ := utf8.DecodeRuneInString(rest)
	// Keep "I" and acronyms as written.
	if (r == 'I' && !unicode.IsLetter(next)) || unicode.IsUpper(next) {
		return s
	}
	return string(unicode.ToLower(r)) + rest
}

// Finalize runs the full output pipeline for one assistant message and
// reports the moderation category when the line was replaced.
func Finalize(text, persona string, personas []string, mode orchestration.GameMode, moderator Moderator) (string, Category) {
	body := StripPersonaTag(StripLeaks(text), personas)
	body = ApplyGameMode(body, mode)
	body, category := Moderate(moderator, body)
	return EnforcePersonaPrefix(body, persona, personas), category
}
