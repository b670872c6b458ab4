// Package grammar maps recognized transcripts onto the fixed German
// command grammar.
package grammar

import (
	"regexp"
	"strings"
	"unicode"

	"pathvoice/internal/domain"
)

// Rule is one entry of the ordered rule table. Build receives the
// normalized transcript the pattern matched.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(transcript string) domain.Command
}

// Normalizer rewrites a lower-cased transcript before matching.
type Normalizer interface {
	Apply(text string) (string, error)
}

// Classifier evaluates rules top to bottom; the first match wins.
type Classifier struct {
	rules      []Rule
	normalizer Normalizer
}

// DefaultRules returns the pathway grammar in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "create_appointment",
			Pattern: regexp.MustCompile(`neue[nrms]?\s+termin`),
			Build:   constant(domain.CommandCreateAppointment),
		},
		{
			Name:    "end_session",
			Pattern: regexp.MustCompile(`auf wiedersehen|tschüss?`),
			Build:   constant(domain.CommandEndSession),
		},
		{
			Name:    "help",
			Pattern: regexp.MustCompile(`hilfe`),
			Build:   constant(domain.CommandHelp),
		},
		{
			Name:    "delete",
			Pattern: regexp.MustCompile(`lösche`),
			Build:   withTarget(domain.CommandDelete),
		},
		{
			Name:    "show",
			Pattern: regexp.MustCompile(`zeige`),
			Build:   withTarget(domain.CommandShow),
		},
	}
}

// NewClassifier builds a classifier over rules. A nil normalizer skips the
// substitution pass; empty rules fall back to DefaultRules.
func NewClassifier(rules []Rule, normalizer Normalizer) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules, normalizer: normalizer}
}

// Classify returns the command for transcript, or Unrecognized.
func (c *Classifier) Classify(transcript string) domain.Command {
	text := c.normalize(transcript)
	if text == "" {
		return domain.Unrecognized()
	}
	for _, rule := range c.rules {
		if rule.Pattern.MatchString(text) {
			return rule.Build(text)
		}
	}
	return domain.Unrecognized()
}

func (c *Classifier) normalize(transcript string) string {
	text := strings.TrimSpace(strings.ToLower(transcript))
	if c.normalizer == nil || text == "" {
		return text
	}
	rewritten, err := c.normalizer.Apply(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(rewritten)
}

func constant(kind domain.CommandKind) func(string) domain.Command {
	return func(string) domain.Command {
		return domain.Command{Kind: kind}
	}
}

func withTarget(kind domain.CommandKind) func(string) domain.Command {
	return func(text string) domain.Command {
		target := TargetOf(text)
		if target == "" {
			return domain.Unrecognized()
		}
		return domain.Command{Kind: kind, Target: target}
	}
}

// TargetOf returns everything after the first whitespace of text, trimmed.
func TargetOf(text string) string {
	index := strings.IndexFunc(text, unicode.IsSpace)
	if index < 0 {
		return ""
	}
	return strings.TrimSpace(text[index:])
}
