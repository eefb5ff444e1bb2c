package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Category is a moderation class. Only the category is ever logged.
type Category string

const (
	CategoryNone    Category = ""
	CategorySlur    Category = "slur"
	CategorySexual  Category = "sexual"
	CategoryHate    Category = "hate"
	CategoryHarmful Category = "harmful_instructions"
)

// ModeratedMessage replaces any line that fails moderation.
const ModeratedMessage = "(The stage manager cut that line. Let's keep the show going.)"

// Moderator decides whether text may be shown.
type Moderator interface {
	Check(text string) Category
}

// Rule is one matcher in a PatternModerator.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// PatternModerator matches normalised text against a fixed rule set.
type PatternModerator struct {
	rules []Rule
}

// NewPatternModerator builds a moderator from rules plus one word-boundary
// rule per extra slur term.
func NewPatternModerator(rules []Rule, slurTerms []string) *PatternModerator {
	m := &PatternModerator{rules: append([]Rule(nil), rules...)}
	for _, term := range slurTerms {
		term = m.normalize(term)
		if term == "" {
			continue
		}
		m.rules = append(m.rules, Rule{
			Category: CategorySlur,
			Pattern:  regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return m
}

// DefaultRules covers explicit sexual content, hate speech, and harmful
// instructions. Slur terms are supplied by configuration.
func DefaultRules() []Rule {
	return []Rule{
		{CategorySexual, regexp.MustCompile(`\b(porn(ography)?|explicit sex|sex scene|nude photos?|genitals?)\b`)},
		{CategoryHate, regexp.MustCompile(`\b(kill|exterminate|gas) all (the )?\w+s\b`)},
		{CategoryHate, regexp.MustCompile(`\b\w+s (are|is) (subhuman|vermin|animals)\b`)},
		{CategoryHarmful, regexp.MustCompile(`\bhow to (make|build|assemble) (a |an )?(pipe )?(bomb|explosive|nerve agent)\b`)},
		{CategoryHarmful, regexp.MustCompile(`\b(synthesi[sz]e|cook) (meth|methamphetamine|fentanyl)\b`)},
		{CategoryHarmful, regexp.MustCompile(`\bways to (kill|hurt) (yourself|myself)\b`)},
	}
}

// Check returns the first matching category or CategoryNone.
func (m *PatternModerator) Check(text string) Category {
	if m == nil {
		return CategoryNone
	}
	normalized := m.normalize(text)
	for _, rule := range m.rules {
		if rule.Pattern.MatchString(normalized) {
			return rule.Category
		}
	}
	return CategoryNone
}

var leet = strings.NewReplacer("0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "@", "a", "$", "s")

func (m *PatternModerator) normalize(text string) string {
	text = norm.NFKC.String(text)
	text = cases.Fold().String(text)
	text = leet.Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// Moderate replaces text with ModeratedMessage when it matches.
func Moderate(m Moderator, text string) (string, Category) {
	if m == nil {
		return text, CategoryNone
	}
	if category := m.Check(text); category != CategoryNone {
		return ModeratedMessage, category
	}
	return text, CategoryNone
}
