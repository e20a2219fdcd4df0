package tone

import (
	"testing"
	"time"
)

func TestValidTag(t *testing.T) {
	for tag := range AllTags {
		if !ValidTag(tag) {
			t.Errorf("whitelisted tag %q rejected", tag)
		}
	}
	if !ValidTag("  Gentle ") {
		t.Error("tags should match case- and space-insensitively")
	}
	if ValidTag("sarcastic") {
		t.Error("unknown tag accepted")
	}
}

func TestObserveBuildsPreference(t *testing.T) {
	b := NewBook()
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	if got := b.Preferred("user1"); got != "" {
		t.Fatalf("preferred = %q, want none before any observation", got)
	}

	// Repeated top satisfaction for playful nudges crosses the activation
	// threshold eventually. With alpha 0.15 the score after n observations
	// of signal 1.0 is 1-(0.85)^n, crossing 0.7 at the eighth.
	for i := 0; i < 10; i++ {
		b.Observe("user1", "playful", 5, now.Add(time.Duration(i)*10*time.Minute))
	}
	if got := b.Preferred("user1"); got != "playful" {
		t.Errorf("preferred = %q, want playful", got)
	}
}

func TestObserveRateLimited(t *testing.T) {
	b := NewBook()
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	// Rapid-fire reports inside the update interval collapse to one.
	for i := 0; i < 20; i++ {
		b.Observe("user1", "playful", 5, now.Add(time.Duration(i)*time.Second))
	}
	if got := b.Preferred("user1"); got != "" {
		t.Errorf("preferred = %q, want none after a single effective update", got)
	}
}

func TestObserveIgnoresInvalidInput(t *testing.T) {
	b := NewBook()
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	b.Observe("user1", "sarcastic", 5, now)
	b.Observe("user1", "playful", 0, now)
	b.Observe("user1", "playful", 6, now)
	if got := b.Preferred("user1"); got != "" {
		t.Errorf("preferred = %q, want none from invalid observations", got)
	}
}

func TestMutualExclusion(t *testing.T) {
	p := &Profile{Scores: map[string]float64{"gentle": 0.75, "direct": 0.8}}
	// One more direct observation triggers the exclusivity check.
	updateProfile(p, "direct", 1.0, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))

	if p.Scores["gentle"] >= activateThreshold {
		t.Errorf("gentle score = %v, should drop below the activation threshold", p.Scores["gentle"])
	}
	if p.Scores["direct"] < activateThreshold {
		t.Errorf("direct score = %v, should stay active", p.Scores["direct"])
	}
}

func TestNonObservedTagsDecay(t *testing.T) {
	p := &Profile{Scores: map[string]float64{"calm": 0.9}}
	updateProfile(p, "playful", 1.0, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC))

	if p.Scores["calm"] >= 0.9 {
		t.Errorf("calm score = %v, want decayed below 0.9", p.Scores["calm"])
	}
}

func TestSelectPriorities(t *testing.T) {
	b := NewBook()
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		b.Observe("user1", "playful", 5, now.Add(time.Duration(i)*10*time.Minute))
	}

	tests := []struct {
		name string
		in   SelectInput
		want string
	}{
		{"gentle only wins over everything", SelectInput{GentleOnly: true, Celebration: true, StressLevel: 90}, "gentle"},
		{"celebration", SelectInput{Celebration: true}, "celebratory"},
		{"high stress calms", SelectInput{StressLevel: 80}, "calm"},
		{"learned preference", SelectInput{StressLevel: 30, EnergyLevel: 90}, "playful"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := b.Select("user1", tc.in); got != tc.want {
				t.Errorf("Select = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSelectDefaults(t *testing.T) {
	b := NewBook()
	if got := b.Select("nobody", SelectInput{EnergyLevel: 90}); got != "energetic" {
		t.Errorf("Select = %q, want energetic for high energy", got)
	}
	if got := b.Select("nobody", SelectInput{EnergyLevel: 50}); got != DefaultTag {
		t.Errorf("Select = %q, want the default", got)
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		content, tag, want string
	}{
		{"Take a walk.", "gentle", "When you're ready: take a walk."},
		{"Take a walk.", "calm", "No rush. take a walk."},
		{"Take a walk.", "direct", "Take a walk."},
		{"Take a walk.", "playful", "Take a walk."},
		{"", "gentle", ""},
	}
	for _, tc := range tests {
		if got := Apply(tc.content, tc.tag); got != tc.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", tc.content, tc.tag, got, tc.want)
		}
	}
}
