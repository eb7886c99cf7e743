package prompt

import (
	"regexp"
	"strings"
)

// Classification represents the result of interactive-prompt classification.
type Classification struct {
	Kind              PromptKind
	Pattern           string // name of the matching pattern
	MaskInput         bool
	SuggestedResponse string
}

// Classifier detects idle shell prompts and interactive input prompts in
// session output.
type Classifier struct {
	shellPatterns       []*regexp.Regexp
	interactivePatterns []Pattern
}

// ClassifierOption configures the classifier.
type ClassifierOption func(*Classifier)

// WithShellPatterns adds custom shell-prompt patterns.
func WithShellPatterns(patterns []*regexp.Regexp) ClassifierOption {
	return func(c *Classifier) {
		c.shellPatterns = append(c.shellPatterns, patterns...)
	}
}

// WithCustomPatterns adds custom interactive-prompt patterns. Custom
// patterns are checked before the built-in ones.
func WithCustomPatterns(patterns []Pattern) ClassifierOption {
	return func(c *Classifier) {
		c.interactivePatterns = append(patterns, c.interactivePatterns...)
	}
}

// NewClassifier creates a new prompt classifier.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		shellPatterns:       shellPromptPatterns,
		interactivePatterns: DefaultPatterns(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// MatchesShellPrompt reports whether the trailing end of output looks like
// an idle shell prompt. Only the last non-empty line is considered.
func (c *Classifier) MatchesShellPrompt(output string) bool {
	tail := lastNonEmptyLine(output)
	if tail == "" {
		return false
	}

	for _, p := range c.shellPatterns {
		if p.MatchString(tail) {
			return true
		}
	}
	return false
}

// MatchInteractive checks the trailing end of output against the
// interactive-prompt patterns. Returns nil when nothing matches.
// The output should already have failed the shell-prompt check:
// several interactive patterns are deliberately loose and would
// otherwise fire on ordinary prompts.
func (c *Classifier) MatchInteractive(output string) *Classification {
	tail := lastNonEmptyLine(output)
	if tail == "" {
		return nil
	}

	for _, p := range c.interactivePatterns {
		if p.Regex == nil {
			continue
		}
		// Multiline patterns (vim tilde) need the full output
		target := tail
		if strings.HasPrefix(p.Regex.String(), "(?m)") {
			target = output
		}
		if p.Regex.MatchString(target) {
			return &Classification{
				Kind:              p.Kind,
				Pattern:           p.Name,
				MaskInput:         p.MaskInput,
				SuggestedResponse: p.SuggestedResponse,
			}
		}
	}
	return nil
}

// lastNonEmptyLine returns the last line of s that contains any
// non-whitespace character.
func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
