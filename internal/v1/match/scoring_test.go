package match

import (
	"testing"
	"time"

	"github.com/lumenchat/backend/go/internal/v1/types"
	"github.com/stretchr/testify/assert"
)

func view(gender types.Gender, age types.AgeBucket, loc string, keywords []string, trust float64) UserView {
	return UserView{
		Profile: types.Profile{
			Gender:   gender,
			Age:      age,
			Location: loc,
			Keywords: keywords,
		},
		Preferences: types.Preferences{Gender: types.GenderAny, Age: types.AgeAny},
		TrustScore:  trust,
	}
}

func TestScoreSymmetry(t *testing.T) {
	views := []UserView{
		view(types.GenderMale, types.Age18To25, "Berlin, Germany", []string{"music", "chess"}, 1.0),
		view(types.GenderFemale, types.Age26To35, "Hamburg, Germany", []string{"music"}, 0.8),
		view(types.GenderOther, types.AgeUnspecified, "", nil, 0.4),
		view(types.GenderUnspecified, types.Age46Plus, "Paris, France", []string{"wine", "books", "travel"}, 0.6),
	}
	// Mix in asymmetric preferences.
	views[0].Preferences = types.Preferences{Gender: types.GenderFemale, Age: types.Age26To35}
	views[1].Preferences = types.Preferences{Gender: types.GenderAny, Age: types.Age18To25}

	for i, a := range views {
		for j, b := range views {
			assert.InDelta(t, Score(a, b), Score(b, a), 1e-12, "asymmetric score for %d,%d", i, j)
		}
	}
}

func TestScoreRange(t *testing.T) {
	a := view(types.GenderMale, types.Age18To25, "Berlin", []string{"music"}, 1.0)
	b := view(types.GenderFemale, types.Age18To25, "Berlin", []string{"music"}, 1.0)

	score := Score(a, b)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScoreGender(t *testing.T) {
	bothAny := view(types.GenderMale, types.AgeUnspecified, "", nil, 1.0)
	other := view(types.GenderFemale, types.AgeUnspecified, "", nil, 1.0)
	assert.Equal(t, 1.0, scoreGender(bothAny, other))

	// One-sided satisfaction.
	wantsMale := other
	wantsMale.Preferences.Gender = types.GenderMale
	satisfiedOnly := bothAny
	satisfiedOnly.Preferences.Gender = types.GenderMale // wants male, peer is female
	assert.Equal(t, 0.5, scoreGender(satisfiedOnly, wantsMale))

	// Mutual mismatch.
	mismatchA := view(types.GenderMale, types.AgeUnspecified, "", nil, 1.0)
	mismatchA.Preferences.Gender = types.GenderFemale
	mismatchB := view(types.GenderMale, types.AgeUnspecified, "", nil, 1.0)
	mismatchB.Preferences.Gender = types.GenderFemale
	assert.Equal(t, 0.0, scoreGender(mismatchA, mismatchB))
}

func TestScoreAge(t *testing.T) {
	young := view(types.GenderMale, types.Age18To25, "", nil, 1.0)
	alsoYoung := view(types.GenderFemale, types.Age18To25, "", nil, 1.0)
	assert.Equal(t, 1.0, scoreAge(young, alsoYoung))

	unknown := view(types.GenderMale, types.AgeUnspecified, "", nil, 1.0)
	assert.Equal(t, 0.5, scoreAge(unknown, young))

	older := view(types.GenderMale, types.Age36To45, "", nil, 1.0)
	// Both prefs are any, so each side is satisfied despite differing buckets.
	assert.Equal(t, 1.0, scoreAge(young, older))

	strict := older
	strict.Preferences.Age = types.Age36To45
	assert.Equal(t, 0.5, scoreAge(young, strict))
}

func TestScoreLocation(t *testing.T) {
	assert.Equal(t, 1.0, scoreLocation("Berlin, Germany", "berlin, germany"))
	assert.Equal(t, 0.8, scoreLocation("Berlin, Germany", "Berlin, DE"))
	assert.Equal(t, 0.6, scoreLocation("berlin", "east berlin"))
	assert.Equal(t, 0.3, scoreLocation("Tokyo", "Lima"))
	assert.Equal(t, 0.5, scoreLocation("", "Lima"))
	assert.Equal(t, 0.5, scoreLocation("", ""))
}

func TestScoreInterests(t *testing.T) {
	assert.Equal(t, 0.5, scoreInterests(nil, nil))
	assert.Equal(t, 0.4, scoreInterests([]string{"music"}, nil))

	// Identical sets: jaccard 1.0 clamps.
	assert.Equal(t, 1.0, scoreInterests([]string{"music", "chess"}, []string{"Chess", "MUSIC"}))

	// One of three shared: jaccard 1/5 + 0.1 bonus.
	got := scoreInterests([]string{"a", "b", "c"}, []string{"c", "d", "e"})
	assert.InDelta(t, 0.2+0.1, got, 1e-12)
}

func TestScoreTrust(t *testing.T) {
	assert.Equal(t, 1.0, scoreTrust(1.0, 1.0))
	assert.InDelta(t, 0.75*(1-0.5*0.5), scoreTrust(1.0, 0.5), 1e-12)
	assert.Equal(t, 0.0, scoreTrust(0.0, 0.0))
}

func TestPriority(t *testing.T) {
	fresh := UserView{TrustScore: 1.0, SessionAge: time.Minute}
	assert.InDelta(t, 1.45, Priority(fresh), 1e-12)

	old := UserView{TrustScore: 1.0, SessionAge: 2 * time.Hour}
	assert.InDelta(t, 1.25, Priority(old), 1e-12)

	troubled := UserView{TrustScore: 0.0, Violations: 20, SessionAge: 2 * time.Hour}
	assert.Equal(t, 0.1, Priority(troubled))
}

func TestMinCompatRelaxes(t *testing.T) {
	assert.InDelta(t, 0.3, MinCompat(0), 1e-12)
	assert.InDelta(t, 0.24, MinCompat(3*time.Minute), 1e-12)
	assert.InDelta(t, 0.1, MinCompat(30*time.Minute), 1e-12)

	// Monotonically non-increasing.
	prev := MinCompat(0)
	for m := 1; m <= 20; m++ {
		cur := MinCompat(time.Duration(m) * time.Minute)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}
