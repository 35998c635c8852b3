package filter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanRedactsLinksEmailsPhones(t *testing.T) {
	f := New(true, true, 500)

	in := "visit https://x.test and email me@x.test, call 555-123-4567 IDIOT"
	out := f.Clean(in)

	assert.Equal(t, "visit [LINK REMOVED] and email [EMAIL REMOVED], call [PHONE REMOVED] *****", out)
}

func TestCleanHighSeverityRemoved(t *testing.T) {
	f := New(true, false, 500)

	assert.Equal(t, "[REMOVED] you", f.Clean("fuck you"))
	assert.Equal(t, "what the [REMOVED]", f.Clean("what the SHIT"))
}

func TestCleanStrictMasksMediumSeverity(t *testing.T) {
	lax := New(true, false, 500)
	strict := New(true, true, 500)

	assert.Equal(t, "you idiot", lax.Clean("you idiot"))
	assert.Equal(t, "you *****", strict.Clean("you idiot"))
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	f := New(true, false, 500)
	assert.Equal(t, "a b c", f.Clean("a \t b\n\nc"))
}

func TestCleanDisabledStillTruncates(t *testing.T) {
	f := New(false, false, 10)

	out := f.Clean("visit https://x.test " + strings.Repeat("a", 50))
	assert.Len(t, out, 10)
	assert.Contains(t, out, "visit http")
}

func TestCleanTruncatesOnRuneBoundary(t *testing.T) {
	f := New(false, false, 4)

	// "é" is two bytes; a byte cut at 4 would split the second rune.
	out := f.Clean("aééé")
	assert.Equal(t, "aé", out)
	assert.True(t, utf8.ValidString(out))

	out = f.Clean("日本語")
	assert.Equal(t, "日", out)
	assert.True(t, utf8.ValidString(out))
}

func TestCleanWwwLinks(t *testing.T) {
	f := New(true, false, 500)
	assert.Equal(t, "go to [LINK REMOVED] now", f.Clean("go to www.example.com/x now"))
}

// Output never exceeds maxLen and never contains link/email/phone
// patterns, for any input.
func TestCleanOutputInvariant(t *testing.T) {
	f := New(true, true, 120)

	inputs := []string{
		"plain text",
		"https://a.b https://c.d www.e.f",
		"a@b.co c@d.org mail: someone+tag@sub.example.com",
		"555-123-4567 and 999.888.7777",
		strings.Repeat("call 555-123-4567 or mail x@y.zz via https://z.test ", 20),
		"",
	}

	for _, in := range inputs {
		out := f.Clean(in)
		assert.LessOrEqual(t, len(out), 120)
		assert.False(t, linkPattern.MatchString(out), "link survived: %q", out)
		assert.False(t, emailPattern.MatchString(out), "email survived: %q", out)
		assert.False(t, phonePattern.MatchString(out), "phone survived: %q", out)
	}
}

func TestValidateAcceptsNormalMessages(t *testing.T) {
	f := New(true, true, 500)

	assert.NoError(t, f.Validate("hi"))
	assert.NoError(t, f.Validate("Hello there, how are you?"))
	assert.NoError(t, f.Validate("OK!"))
}

func TestValidateRejects(t *testing.T) {
	f := New(true, true, 20)

	tests := []struct {
		name string
		text string
		want error
	}{
		{"empty", "   ", ErrEmptyMessage},
		{"too long", strings.Repeat("a b ", 10), ErrMessageTooLong},
		{"repeated chars", "aaaaaaaaaa", ErrSuspiciousPattern},
		{"uppercase run", "AAAAABBBBB", ErrSuspiciousPattern},
		{"digit run", "1234567890", ErrSuspiciousPattern},
		{"symbol run", "hey !!!!!", ErrSuspiciousPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Validate(tt.text)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateBoundaryRuns(t *testing.T) {
	f := New(true, true, 500)

	// One below each threshold passes.
	assert.NoError(t, f.Validate("aaaaaaaaa"))  // 9 repeats
	assert.NoError(t, f.Validate("ABCDEFGHI"))  // 9 uppercase
	assert.NoError(t, f.Validate("123456789"))  // 9 digits
	assert.NoError(t, f.Validate("wow !!!!"))   // 4 symbols
}
