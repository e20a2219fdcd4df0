package engine

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/NudgeLoop/NudgeLoop/internal/models"
	"github.com/NudgeLoop/NudgeLoop/internal/store"
	"github.com/NudgeLoop/NudgeLoop/internal/tone"
	"github.com/NudgeLoop/NudgeLoop/internal/util"
)

// TemplateRotationWindow is how long a content template stays out of
// rotation for a user after being delivered.
const TemplateRotationWindow = 7 * 24 * time.Hour

// Synthesizer builds a concrete intervention record from the winning
// trigger and the user's personalization state.
type Synthesizer struct {
	state   store.UserStateRepo
	tracker *EffectivenessTracker
	tones   *tone.Book
	clock   Clock
	rng     RNG
}

// NewSynthesizer creates a synthesizer with injected clock and RNG so
// content rotation is reproducible in tests.
func NewSynthesizer(state store.UserStateRepo, tracker *EffectivenessTracker, tones *tone.Book, clock Clock, rng RNG) *Synthesizer {
	return &Synthesizer{state: state, tracker: tracker, tones: tones, clock: clock, rng: rng}
}

// deliveryMethodFor selects the channel from the snapshot: public
// settings get a visual cue, driving-like activity gets voice, everything
// else gets push.
func deliveryMethodFor(snap *models.ContextSnapshot) models.DeliveryMethod {
	if snap.Social == models.SocialPublic {
		return models.DeliveryVisualCue
	}
	switch snap.Activity {
	case "driving", "commuting":
		return models.DeliveryVoice
	}
	return models.DeliveryPush
}

// restrictionsFor derives contextual restrictions from the snapshot.
func restrictionsFor(snap *models.ContextSnapshot) []models.ContextualRestriction {
	var out []models.ContextualRestriction
	if snap.Social == models.SocialWork {
		out = append(out, models.RestrictNoPersonalContent)
	}
	if snap.StressLevel > models.GentleToneStressThreshold {
		out = append(out, models.RestrictGentleToneOnly)
	}
	hour := snap.HourOfDay()
	if hour < models.QuietHourStart || hour > models.QuietHourEnd {
		out = append(out, models.RestrictQuietDelivery)
	}
	return out
}

// selectContent rotates through the trigger's templates, excluding ones
// delivered to this user inside the rotation window plus any the
// habituation monitor flagged. When everything is excluded it falls back
// to the full set rather than emitting nothing.
func (s *Synthesizer) selectContent(def *models.TriggerDefinition, snap *models.ContextSnapshot, excluded map[string]bool) string {
	now := s.clock.Now()
	recent, err := s.state.RecentDeliveries(snap.UserID, now.Add(-TemplateRotationWindow))
	if err != nil {
		slog.Warn("Failed to read recent deliveries for rotation", "user", snap.UserID, "error", err)
	}
	used := make(map[string]bool, len(recent))
	for _, e := range recent {
		used[e.Content] = true
	}

	pool := make([]string, 0, len(def.Templates))
	for _, tmpl := range def.Templates {
		rendered := renderTemplate(tmpl, snap)
		if used[rendered] || excluded[rendered] {
			continue
		}
		pool = append(pool, rendered)
	}
	if len(pool) == 0 {
		for _, tmpl := range def.Templates {
			pool = append(pool, renderTemplate(tmpl, snap))
		}
	}
	return pool[s.rng.IntN(len(pool))]
}

// renderTemplate fills the small placeholder set templates may use.
func renderTemplate(tmpl string, snap *models.ContextSnapshot) string {
	out := strings.ReplaceAll(tmpl, "{streak}", strconv.Itoa(snap.Behavior.StreakCount))
	out = strings.ReplaceAll(out, "{location}", snap.Location)
	return out
}

// motivationBoost converts the stored effectiveness aggregate into a
// bounded adjustment of motivation alignment: ±10 around the 50 midpoint.
func motivationBoost(previousEffectiveness float64) float64 {
	return (previousEffectiveness - DefaultEffectiveness) / 5
}

// Synthesize builds the full intervention record for the winning trigger.
// The habituation assessment supplies the risk snapshot and any excluded
// templates.
func (s *Synthesizer) Synthesize(def *models.TriggerDefinition, snap *models.ContextSnapshot, habituation HabituationAssessment, generation uint64) *models.InterventionRecord {
	now := s.clock.Now()
	previous := s.tracker.PreviousEffectiveness(snap.UserID, def.ID)

	ivType := def.Type
	if ivType == "" {
		ivType = models.TypeSuggestion
	}

	restrictions := restrictionsFor(snap)
	gentleOnly := false
	for _, r := range restrictions {
		if r == models.RestrictGentleToneOnly {
			gentleOnly = true
		}
	}
	toneTag := s.tones.Select(snap.UserID, tone.SelectInput{
		StressLevel: snap.StressLevel,
		EnergyLevel: snap.EnergyLevel,
		GentleOnly:  gentleOnly,
		Celebration: ivType == models.TypeCelebration,
	})

	rec := &models.InterventionRecord{
		ID:             util.GenerateInterventionID(),
		UserID:         snap.UserID,
		TriggerID:      def.ID,
		Type:           ivType,
		Content:        tone.Apply(s.selectContent(def, snap, habituation.ExcludedContents), toneTag),
		DeliveryMethod: deliveryMethodFor(snap),
		Tone:           toneTag,
		Personalization: models.Personalization{
			MotivationAlignment:   models.ClampScore(snap.MotivationLevel + motivationBoost(previous)),
			HabituationRisk:       habituation.Risk,
			PreviousEffectiveness: previous,
		},
		Constraints: models.Constraints{
			NotBefore:          now,
			NotAfter:           now.Add(models.DefaultValidityWindow),
			MinIntervalMinutes: models.DefaultMinIntervalMinutes,
			Restrictions:       restrictions,
		},
		Status:     models.StatusSynthesized,
		Generation: generation,
		CreatedAt:  now,
	}
	rec.Timing = ComputeTiming(snap, previous, habituation.Risk)

	slog.Debug("Intervention synthesized", "id", rec.ID, "user", rec.UserID,
		"trigger", rec.TriggerID, "type", rec.Type, "method", rec.DeliveryMethod,
		"optimal", rec.Timing.Optimal)
	return rec
}
