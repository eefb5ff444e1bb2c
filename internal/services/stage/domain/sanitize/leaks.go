package sanitize

import (
	"regexp"
	"strings"
)

var leakTags = []string{"thinking", "reasoning", "internal", "scratchpad", "tool_call", "tool_use", "function_calls"}

var (
	leakBlock = regexp.MustCompile(`(?is)<(` + strings.Join(leakTags, "|") + `)\b[^>]*>.*?</(` + strings.Join(leakTags, "|") + `)\s*>`)
	leakOpen  = regexp.MustCompile(`(?i)<(` + strings.Join(leakTags, "|") + `)\b[^>]*>`)
	leakClose = regexp.MustCompile(`(?i)</(` + strings.Join(leakTags, "|") + `)\s*>`)
)

// StripLeaks removes internal reasoning and tool-call markup from visible
// text. A lone closing marker drops everything before it; a lone opening
// marker drops everything after it.
func StripLeaks(text string) string {
	out := leakBlock.ReplaceAllString(text, "")
	if loc := lastIndex(leakClose, out); loc != nil {
		out = out[loc[1]:]
	}
	if loc := leakOpen.FindStringIndex(out); loc != nil {
		out = out[:loc[0]]
	}
	return strings.TrimSpace(collapseBlankLines(out))
}

func lastIndex(re *regexp.Regexp, s string) []int {
	all := re.FindAllStringIndex(s, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

var blankRun = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankRun.ReplaceAllString(s, "\n\n")
}
