// Package filter implements the chat content filter pipeline and the
// message validation rules applied before any room state changes.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validation sentinels. The dispatcher maps these to wire error codes.
var (
	ErrEmptyMessage      = errors.New("message is empty")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrSuspiciousPattern = errors.New("message matches a suspicious pattern")
)

// highSeverity tokens are removed outright. mediumSeverity tokens are
// masked only in strict mode.
var (
	highSeverity = []string{
		"fuck", "shit", "bitch", "asshole", "bastard", "dick", "slut", "whore", "cunt",
	}
	mediumSeverity = []string{
		"idiot", "stupid", "dumb", "moron", "loser", "jerk", "trash", "ugly",
	}
)

var (
	linkPattern  = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+)`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`)
	spacePattern = regexp.MustCompile(`\s+`)
)

const (
	removedToken      = "[REMOVED]"
	linkRemovedToken  = "[LINK REMOVED]"
	emailRemovedToken = "[EMAIL REMOVED]"
	phoneRemovedToken = "[PHONE REMOVED]"
)

// Filter applies the configured content filter pipeline to message text.
type Filter struct {
	enabled bool
	strict  bool
	maxLen  int

	highPattern   *regexp.Regexp
	mediumPattern *regexp.Regexp
}

// New builds a Filter. maxLen bounds the output length regardless of the
// enabled flag.
func New(enabled, strict bool, maxLen int) *Filter {
	return &Filter{
		enabled:       enabled,
		strict:        strict,
		maxLen:        maxLen,
		highPattern:   wordListPattern(highSeverity),
		mediumPattern: wordListPattern(mediumSeverity),
	}
}

func wordListPattern(words []string) *regexp.Regexp {
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
}

// Clean runs the pipeline: profanity removal, strict masking, whitespace
// collapse, link/email/phone redaction, truncation. Order matters and is
// part of the contract.
func (f *Filter) Clean(text string) string {
	if f.enabled {
		text = f.highPattern.ReplaceAllString(text, removedToken)
		if f.strict {
			text = f.mediumPattern.ReplaceAllStringFunc(text, func(m string) string {
				return strings.Repeat("*", len(m))
			})
		}
		text = strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
		text = linkPattern.ReplaceAllString(text, linkRemovedToken)
		text = emailPattern.ReplaceAllString(text, emailRemovedToken)
		text = phonePattern.ReplaceAllString(text, phoneRemovedToken)
	}
	if f.maxLen > 0 && len(text) > f.maxLen {
		// Back up to a rune boundary so the cut never emits invalid UTF-8.
		cut := f.maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// Validate applies the pre-filter message rules: non-empty, bounded
// length, and free of flooding patterns. It never mutates the text.
func (f *Filter) Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if f.maxLen > 0 && len(text) > f.maxLen {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLong, len(text), f.maxLen)
	}
	if reason := suspiciousRun(trimmed); reason != "" {
		return fmt.Errorf("%w: %s", ErrSuspiciousPattern, reason)
	}
	return nil
}

// suspiciousRun scans for flooding runs in a single pass:
// >=10 identical characters, >=10 uppercase letters, >=10 digits,
// >=5 symbol characters.
func suspiciousRun(text string) string {
	const (
		repeatLimit = 10
		upperLimit  = 10
		digitLimit  = 10
		symbolLimit = 5
	)

	var prev rune
	repeat, upper, digit, symbol := 0, 0, 0, 0

	for _, r := range text {
		if r == prev {
			repeat++
		} else {
			repeat = 1
			prev = r
		}
		if repeat >= repeatLimit {
			return "repeated characters"
		}

		if unicode.IsUpper(r) {
			upper++
		} else {
			upper = 0
		}
		if upper >= upperLimit {
			return "uppercase run"
		}

		if unicode.IsDigit(r) {
			digit++
		} else {
			digit = 0
		}
		if digit >= digitLimit {
			return "digit run"
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			symbol++
		} else {
			symbol = 0
		}
		if symbol >= symbolLimit {
			return "symbol run"
		}
	}
	return ""
}
