// Package prompt provides prompt detection and command classification for
// device shell sessions.
package prompt

import "regexp"

// PromptKind indicates the type of interactive prompt detected.
type PromptKind string

const (
	KindPassword     PromptKind = "password"
	KindConfirmation PromptKind = "confirmation"
	KindPager        PromptKind = "pager"
	KindText         PromptKind = "text"
)

// Pattern represents an interactive-prompt detection pattern.
type Pattern struct {
	Name              string
	Regex             *regexp.Regexp
	Kind              PromptKind
	MaskInput         bool
	SuggestedResponse string
}

// shellPromptPatterns match the idle prompt of the shells found across
// Android builds and ROMs. Matched against the trailing end of output.
var shellPromptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[$#]\s*$`),            // bare $ or #
	regexp.MustCompile(`:\S*\s*[$#]\s*$`),     // path:dir $ or #
	regexp.MustCompile(`@\S+:\S*\s*[$#]\s*$`), // user@host:dir $ or #
}

// DefaultPatterns returns the built-in interactive-prompt patterns.
// Ordered from most to least specific; the first match wins.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Password and passphrase prompts
		{
			Name:      "password",
			Regex:     regexp.MustCompile(`(?i)password\s*:?\s*$`),
			Kind:      KindPassword,
			MaskInput: true,
		},
		{
			Name:      "passphrase",
			Regex:     regexp.MustCompile(`(?i)passphrase\s*:?\s*$`),
			Kind:      KindPassword,
			MaskInput: true,
		},

		// Confirmation prompts
		{
			Name:              "yn_bracket",
			Regex:             regexp.MustCompile(`(?i)\[y/n\]\s*:?\s*$`),
			Kind:              KindConfirmation,
			SuggestedResponse: "y",
		},
		{
			Name:              "Yn_bracket",
			Regex:             regexp.MustCompile(`\[Y/n\]\s*:?\s*$`),
			Kind:              KindConfirmation,
			SuggestedResponse: "Y",
		},
		{
			Name:              "yesno_bracket",
			Regex:             regexp.MustCompile(`(?i)\[yes/no\]\s*:?\s*$`),
			Kind:              KindConfirmation,
			SuggestedResponse: "yes",
		},
		{
			Name:              "yn_paren",
			Regex:             regexp.MustCompile(`(?i)\(y/n\)\s*:?\s*$`),
			Kind:              KindConfirmation,
			SuggestedResponse: "y",
		},
		{
			Name:              "yn_bare",
			Regex:             regexp.MustCompile(`(?i)y/n\)?\s*:?\s*$`),
			Kind:              KindConfirmation,
			SuggestedResponse: "y",
		},
		{
			Name:  "continue_question",
			Regex: regexp.MustCompile(`(?i)continue\?\s*`),
			Kind:  KindConfirmation,
		},
		{
			Name:  "overwrite_question",
			Regex: regexp.MustCompile(`(?i)overwrite\?\s*`),
			Kind:  KindConfirmation,
		},
		{
			Name:  "confirm_paren",
			Regex: regexp.MustCompile(`(?i)confirm\s*[(\[]`),
			Kind:  KindConfirmation,
		},
		{
			Name:  "are_you_sure",
			Regex: regexp.MustCompile(`(?i)are you sure`),
			Kind:  KindConfirmation,
		},
		{
			Name:  "press_to_continue",
			Regex: regexp.MustCompile(`(?i)press\s+.*to\s+continue`),
			Kind:  KindConfirmation,
		},

		// Pager prompts
		{
			Name:              "more_pager",
			Regex:             regexp.MustCompile(`--More--`),
			Kind:              KindPager,
			SuggestedResponse: "q",
		},
		{
			Name:              "end_pager",
			Regex:             regexp.MustCompile(`\(END\)`),
			Kind:              KindPager,
			SuggestedResponse: "q",
		},
		{
			Name:              "vim_tilde",
			Regex:             regexp.MustCompile(`(?m)^~\s*$`),
			Kind:              KindPager,
			SuggestedResponse: ":q!",
		},

		// Free-text input prompts
		{
			Name:  "enter_value",
			Regex: regexp.MustCompile(`Enter\s+.*:\s*$`),
			Kind:  KindText,
		},
		{
			Name:  "question_mark",
			Regex: regexp.MustCompile(`\?\s*$`),
			Kind:  KindText,
		},
		{
			Name:  "generic_colon",
			Regex: regexp.MustCompile(`:\s*$`),
			Kind:  KindText,
		},
	}
}
