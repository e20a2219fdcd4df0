// Package tone provides a fixed whitelist of nudge tone tags, per-user
// EMA-smoothed tone preferences learned from satisfaction reports, and
// content adjustment for restricted delivery contexts.
package tone

import (
	"strings"
	"sync"
	"time"
)

// ---- Whitelist ----

// AllTags is the hard-coded set of nudge tone tags.
var AllTags = map[string]bool{
	"gentle":      true,
	"direct":      true,
	"energetic":   true,
	"calm":        true,
	"playful":     true,
	"celebratory": true,
}

// mutuallyExclusivePairs defines tags where at most one may lead.
var mutuallyExclusivePairs = [][2]string{
	{"gentle", "direct"},
	{"energetic", "calm"},
}

// ---- Constants for EMA / hysteresis ----

const (
	alpha             = 0.15
	activateThreshold = 0.7
	// Rate-limit: minimum interval between preference updates per user.
	minUpdateInterval = 3 * time.Minute
)

// DefaultTag is used before any preference signal accumulates.
const DefaultTag = "direct"

// softeners rewrite leading imperatives when delivering gently.
var softeners = map[string]string{
	"gentle": "When you're ready: ",
	"calm":   "No rush. ",
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ValidTag reports whether a tag is on the whitelist.
func ValidTag(tag string) bool {
	return AllTags[strings.TrimSpace(strings.ToLower(tag))]
}

// Profile stores one user's smoothed tone preference scores.
type Profile struct {
	Scores        map[string]float64
	LastUpdatedAt time.Time
}

// updateProfile applies one satisfaction observation for a tag using EMA
// smoothing. Satisfaction is the 1-5 report scaled to [0, 1]. Non-observed
// tags decay toward zero so stale preferences can deactivate. Returns true
// when the profile was mutated.
func updateProfile(p *Profile, tag string, signal float64, now time.Time) bool {
	if !ValidTag(tag) {
		return false
	}
	if !p.LastUpdatedAt.IsZero() && now.Sub(p.LastUpdatedAt) < minUpdateInterval {
		return false
	}
	if p.Scores == nil {
		p.Scores = make(map[string]float64)
	}

	signal = clamp(signal)
	changed := false

	prev := p.Scores[tag]
	p.Scores[tag] = clamp((1-alpha)*prev + alpha*signal)
	if p.Scores[tag] != prev {
		changed = true
	}
	for other, score := range p.Scores {
		if other == tag || score <= 0 {
			continue
		}
		decayed := clamp((1 - alpha) * score)
		if decayed != score {
			p.Scores[other] = decayed
			changed = true
		}
	}

	if !changed {
		return false
	}

	// Mutual exclusion: when both sides of a pair are active, the lower
	// score drops below the activation threshold.
	for _, pair := range mutuallyExclusivePairs {
		a, b := pair[0], pair[1]
		sa, sb := p.Scores[a], p.Scores[b]
		if sa >= activateThreshold && sb >= activateThreshold {
			if sa >= sb {
				p.Scores[b] = activateThreshold - 0.01
			} else {
				p.Scores[a] = activateThreshold - 0.01
			}
		}
	}

	p.LastUpdatedAt = now
	return true
}

// preferredTag returns the highest-scoring active tag, or "" when none
// has crossed the activation threshold.
func preferredTag(p *Profile) string {
	best, bestScore := "", 0.0
	for tag, score := range p.Scores {
		if score >= activateThreshold && score > bestScore {
			best, bestScore = tag, score
		}
	}
	return best
}

// Book holds tone profiles for all users. Profiles are in-memory and
// best-effort; they reset on restart.
type Book struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewBook creates an empty tone book.
func NewBook() *Book {
	return &Book{profiles: make(map[string]*Profile)}
}

// Observe feeds one satisfaction report (1-5) for a nudge delivered with
// the given tone tag into the user's profile.
func (b *Book) Observe(userID, tag string, satisfaction int, now time.Time) {
	if satisfaction < 1 || satisfaction > 5 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[userID]
	if !ok {
		p = &Profile{}
		b.profiles[userID] = p
	}
	updateProfile(p, tag, float64(satisfaction-1)/4, now)
}

// Preferred returns the user's learned tone tag, or "" when none is
// established yet.
func (b *Book) Preferred(userID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.profiles[userID]
	if !ok {
		return ""
	}
	return preferredTag(p)
}

// SelectInput is the context the selector draws on.
type SelectInput struct {
	StressLevel float64
	EnergyLevel float64
	GentleOnly  bool
	Celebration bool
}

// Select picks the tone tag for a nudge: contextual overrides first, then
// the user's learned preference, then the default.
func (b *Book) Select(userID string, in SelectInput) string {
	if in.GentleOnly {
		return "gentle"
	}
	if in.Celebration {
		return "celebratory"
	}
	if in.StressLevel > 70 {
		return "calm"
	}
	if preferred := b.Preferred(userID); preferred != "" {
		return preferred
	}
	if in.EnergyLevel > 70 {
		return "energetic"
	}
	return DefaultTag
}

// Apply adjusts content for a tone tag. Only softening tones rewrite the
// text; the rest pass through unchanged.
func Apply(content, tag string) string {
	prefix, ok := softeners[tag]
	if !ok {
		return content
	}
	if content == "" {
		return content
	}
	// Lowercase the original lead so the softener reads as one sentence.
	head := strings.ToLower(content[:1])
	return prefix + head + content[1:]
}
