package grammar

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const defaultIterationLimit = 30

type substitution struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

func (s substitution) apply(input string) (string, bool) {
	if !s.firstOnly {
		output := s.re.ReplaceAllString(input, s.replacement)
		return output, output != input
	}

	loc := s.re.FindStringIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := s.re.ReplaceAllString(input[loc[0]:loc[1]], s.replacement)
	output := input[:loc[0]] + replaced + input[loc[1]:]
	return output, output != input
}

// Substitutions rewrites transcripts with literal ("a => b") and sed-like
// ("s/a/b/g") rules to correct systematic mishearings before
// classification.
type Substitutions struct {
	rules []substitution
	limit int
}

// LoadSubstitutions reads a rules file. An empty path or a missing file
// yields an empty rule set.
func LoadSubstitutions(path string, limit int) (*Substitutions, error) {
	if limit <= 0 {
		limit = defaultIterationLimit
	}
	if strings.TrimSpace(path) == "" {
		return &Substitutions{limit: limit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Substitutions{limit: limit}, nil
		}
		return nil, fmt.Errorf("failed to read substitutions file %q: %w", path, err)
	}

	subs, err := ParseSubstitutions(string(contents), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse substitutions file %q: %w", path, err)
	}
	return subs, nil
}

// ParseSubstitutions compiles rules from contents, one per line. Blank
// lines and lines starting with # are skipped.
func ParseSubstitutions(contents string, limit int) (*Substitutions, error) {
	if limit <= 0 {
		limit = defaultIterationLimit
	}

	lines := strings.Split(contents, "\n")
	rules := make([]substitution, 0, len(lines))
	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			rule substitution
			err  error
		)
		switch {
		case isSedRule(line):
			rule, err = parseSedRule(line)
		case strings.Contains(line, "=>"):
			rule, err = parseLiteralRule(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, rule)
	}

	return &Substitutions{rules: rules, limit: limit}, nil
}

// Len reports the number of compiled rules.
func (s *Substitutions) Len() int {
	return len(s.rules)
}

// Apply runs all rules repeatedly until the text stops changing or the
// iteration limit is reached.
func (s *Substitutions) Apply(text string) (string, error) {
	if len(s.rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < s.limit; i++ {
		changed := false
		for _, rule := range s.rules {
			if next, ok := rule.apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func parseLiteralRule(line string) (substitution, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return substitution{}, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return substitution{}, fmt.Errorf("invalid literal source: %w", err)
	}
	return substitution{re: re, replacement: to}, nil
}

// parseSedRule accepts s<d>pattern<d>replacement<d>flags where d is any
// non-alphanumeric delimiter. Matching is case-insensitive; without the g
// flag only the first match is replaced.
func parseSedRule(line string) (substitution, error) {
	delim := line[1]
	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex replacement: %w", err)
	}

	global := false
	prefix := "i"
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i', ' ':
		case 'g':
			global = true
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		default:
			return substitution{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return substitution{}, fmt.Errorf("invalid regex: %w", err)
	}
	return substitution{re: re, replacement: replacement, firstOnly: !global}, nil
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("unterminated expression")
}

func isSedRule(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	c := line[1]
	alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	return !alnum && c != ' ' && c != '\t'
}
