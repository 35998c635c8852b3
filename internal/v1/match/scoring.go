package match

import (
	"math"
	"strings"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/types"
)

// Compatibility weights. They sum to 1.0.
const (
	weightGender    = 0.30
	weightAge       = 0.20
	weightLocation  = 0.15
	weightInterests = 0.25
	weightTrust     = 0.10
)

// UserView is the matching engine's read-only snapshot of a session.
type UserView struct {
	UserID      types.UserIDType
	Profile     types.Profile
	Preferences types.Preferences
	TrustScore  float64
	Violations  int
	SessionAge  time.Duration
}

// Score computes the weighted compatibility of two users in [0,1].
// It is symmetric in its arguments.
func Score(a, b UserView) float64 {
	return weightGender*scoreGender(a, b) +
		weightAge*scoreAge(a, b) +
		weightLocation*scoreLocation(a.Profile.Location, b.Profile.Location) +
		weightInterests*scoreInterests(a.Profile.Keywords, b.Profile.Keywords) +
		weightTrust*scoreTrust(a.TrustScore, b.TrustScore)
}

func genderSatisfied(pref types.Gender, actual types.Gender) bool {
	return pref == types.GenderAny || pref == "" || pref == actual
}

func scoreGender(a, b UserView) float64 {
	if (a.Preferences.Gender == types.GenderAny || a.Preferences.Gender == "") &&
		(b.Preferences.Gender == types.GenderAny || b.Preferences.Gender == "") {
		return 1.0
	}
	score := 0.0
	if genderSatisfied(a.Preferences.Gender, b.Profile.Gender) {
		score += 0.5
	}
	if genderSatisfied(b.Preferences.Gender, a.Profile.Gender) {
		score += 0.5
	}
	return score
}

func ageSatisfied(pref types.AgeBucket, actual types.AgeBucket) bool {
	return pref == types.AgeAny || pref == "" || pref == actual
}

func scoreAge(a, b UserView) float64 {
	// Unknown age on either side is neutral.
	if a.Profile.Age == types.AgeUnspecified || b.Profile.Age == types.AgeUnspecified ||
		a.Profile.Age == "" || b.Profile.Age == "" {
		return 0.5
	}
	if a.Profile.Age == b.Profile.Age {
		return 1.0
	}
	score := 0.0
	if ageSatisfied(a.Preferences.Age, b.Profile.Age) {
		score += 0.5
	}
	if ageSatisfied(b.Preferences.Age, a.Profile.Age) {
		score += 0.5
	}
	return score
}

func scoreLocation(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "" || b == "" {
		return 0.5
	}
	if a == b {
		return 1.0
	}
	if regionOf(a) == regionOf(b) {
		return 0.8
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.6
	}
	return 0.3
}

// regionOf takes the segment before the first comma.
func regionOf(location string) string {
	if idx := strings.IndexByte(location, ','); idx >= 0 {
		return strings.TrimSpace(location[:idx])
	}
	return location
}

func scoreInterests(a, b []string) float64 {
	setA := keywordSet(a)
	setB := keywordSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 0.5
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.4
	}

	intersection := 0
	for kw := range setA {
		if _, ok := setB[kw]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	jaccard := float64(intersection) / float64(union)
	bonus := math.Min(0.3, 0.1*float64(intersection))

	return math.Min(1.0, jaccard+bonus)
}

func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			set[kw] = struct{}{}
		}
	}
	return set
}

func scoreTrust(a, b float64) float64 {
	mean := (a + b) / 2
	return mean * (1 - 0.5*math.Abs(a-b))
}

// Priority derives the queue ordering key from trust, violations and
// session freshness, clamped to [0.1, 2.0].
func Priority(view UserView) float64 {
	p := 1.0 + (view.TrustScore-0.5)*0.5 - 0.1*float64(view.Violations)
	if view.SessionAge < time.Hour {
		p += 0.2
	}
	if p < 0.1 {
		return 0.1
	}
	if p > 2.0 {
		return 2.0
	}
	return p
}

// MinCompat is the dynamic score threshold applied to the requester. It
// relaxes monotonically with wait time so nobody waits forever in a
// populated queue.
func MinCompat(wait time.Duration) float64 {
	return math.Max(0.1, 0.3-0.02*wait.Minutes())
}
