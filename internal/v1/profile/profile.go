// Package profile coerces untrusted client attributes into the canonical
// domain. Normalization never fails; unrecognized values collapse to the
// sentinel for their field.
package profile

import (
	"strings"

	"github.com/lumenchat/backend/go/internal/v1/types"
)

const (
	MaxKeywords    = 10
	MaxKeywordLen  = 50
	MaxLocationLen = 100
)

// Raw is the untrusted attribute map as received from a client. Empty
// fields are treated as absent so the same shape serves both full and
// partial (merge) updates.
type Raw struct {
	Gender   string   `json:"gender"`
	Age      string   `json:"age"`
	Location string   `json:"location"`
	Keywords []string `json:"keywords"`
}

// RawPreferences is the untrusted preference map.
type RawPreferences struct {
	Gender   string `json:"gender"`
	Age      string `json:"age"`
	Location string `json:"location"`
	ChatType string `json:"chat_type"`
}

// NormalizeProfile canonicalizes a raw profile.
func NormalizeProfile(raw Raw) types.Profile {
	return types.Profile{
		Gender:   normalizeGender(raw.Gender, types.GenderUnspecified),
		Age:      normalizeAge(raw.Age, types.AgeUnspecified),
		Location: normalizeLocation(raw.Location),
		Keywords: NormalizeKeywords(raw.Keywords),
	}
}

// NormalizePreferences canonicalizes raw preferences. Absent or
// unrecognized values coerce to "any"; chat type defaults to text.
func NormalizePreferences(raw RawPreferences) types.Preferences {
	return types.Preferences{
		Gender:   normalizeGender(raw.Gender, types.GenderAny),
		Age:      normalizeAge(raw.Age, types.AgeAny),
		Location: normalizeLocation(raw.Location),
		ChatType: normalizeChatType(raw.ChatType),
	}
}

// Merge applies the non-empty fields of a partial raw profile on top of an
// existing canonical profile.
func Merge(base types.Profile, partial Raw) types.Profile {
	if partial.Gender != "" {
		base.Gender = normalizeGender(partial.Gender, types.GenderUnspecified)
	}
	if partial.Age != "" {
		base.Age = normalizeAge(partial.Age, types.AgeUnspecified)
	}
	if partial.Location != "" {
		base.Location = normalizeLocation(partial.Location)
	}
	if partial.Keywords != nil {
		base.Keywords = NormalizeKeywords(partial.Keywords)
	}
	return base
}

func normalizeGender(raw string, fallback types.Gender) types.Gender {
	switch types.Gender(strings.ToLower(strings.TrimSpace(raw))) {
	case types.GenderMale:
		return types.GenderMale
	case types.GenderFemale:
		return types.GenderFemale
	case types.GenderOther:
		return types.GenderOther
	case types.GenderUnspecified:
		return types.GenderUnspecified
	case types.GenderAny:
		if fallback == types.GenderAny {
			return types.GenderAny
		}
	}
	return fallback
}

func normalizeAge(raw string, fallback types.AgeBucket) types.AgeBucket {
	switch types.AgeBucket(strings.ToLower(strings.TrimSpace(raw))) {
	case types.Age18To25:
		return types.Age18To25
	case types.Age26To35:
		return types.Age26To35
	case types.Age36To45:
		return types.Age36To45
	case types.Age46Plus:
		return types.Age46Plus
	case types.AgeUnspecified:
		return types.AgeUnspecified
	case types.AgeAny:
		if fallback == types.AgeAny {
			return types.AgeAny
		}
	}
	return fallback
}

func normalizeChatType(raw string) types.ChatType {
	if types.ChatType(strings.ToLower(strings.TrimSpace(raw))) == types.ChatTypeVideo {
		return types.ChatTypeVideo
	}
	return types.ChatTypeText
}

func normalizeLocation(raw string) string {
	loc := strings.TrimSpace(raw)
	if len(loc) > MaxLocationLen {
		loc = loc[:MaxLocationLen]
	}
	return loc
}

// NormalizeKeywords trims, truncates and dedupes keywords, preserving
// first-seen order, capped at MaxKeywords.
func NormalizeKeywords(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, kw := range raw {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if len(kw) > MaxKeywordLen {
			kw = kw[:MaxKeywordLen]
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}
