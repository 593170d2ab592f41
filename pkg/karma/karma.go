package karma

import (
	"math"
	"regexp"

	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/store"
	"github.com/huskbot/husk/pkg/utils"
)

// Message-content detectors. Each one fires at most once per message and
// they are independent of each other.
var (
	gratitudeRe = regexp.MustCompile(`(?i)спасибо|благодарю|спс|пасиб|thx|thanks|thank you`)
	praiseRe    = regexp.MustCompile(`(?i)круто|классно|молодец|умничка|красавчик|лучший|well done|awesome|great job`)
	insultRe    = regexp.MustCompile(`(?i)дурак|идиот|лох|тупой|отстой|idiot|stupid|moron`)
)

// ProfileAccess is the slice of the profile store the engine needs.
type ProfileAccess interface {
	Get(chatID, userID string) store.UserProfile
	MarkInteracted(chatID, userID string) bool
	BulkUpdate(chatID string, updates map[string]store.ProfileUpdate) []string
}

// Change reports one karma adjustment.
type Change struct {
	OldScore int
	NewScore int
	OldTier  string
	NewTier  string
}

// Engine applies relationship-score changes with the damping and
// amplification rules, and persists them through the profile store.
type Engine struct {
	cfg      config.KarmaConfig
	profiles ProfileAccess
}

func NewEngine(cfg config.KarmaConfig, profiles ProfileAccess) *Engine {
	return &Engine{cfg: cfg, profiles: profiles}
}

// Update applies delta to the user's relationship score. A score already
// at or above the high threshold halves further movement; a score at or
// below the low threshold amplifies it by half. The result is rounded
// and clamped to [Min, Max]. Store failures leave the score unchanged.
func (e *Engine) Update(chatID, userID string, delta int, reason string) Change {
	profile := e.profiles.Get(chatID, userID)
	old := profile.Relationship

	effective := float64(delta)
	if old >= e.cfg.HighThreshold {
		effective *= e.cfg.HighModifier
	} else if old <= e.cfg.LowThreshold {
		effective *= e.cfg.LowModifier
	}

	next := utils.Clamp(old+int(math.Round(effective)), e.cfg.Min, e.cfg.Max)

	if next != old {
		updated := e.profiles.BulkUpdate(chatID, map[string]store.ProfileUpdate{
			userID: {Relationship: &next},
		})
		if len(updated) == 0 {
			// Admin or store refusal: report no change.
			next = old
		}
	}

	change := Change{OldScore: old, NewScore: next, OldTier: TierFor(old), NewTier: TierFor(next)}
	if change.NewScore != change.OldScore {
		logger.DebugCF("karma", "score updated", map[string]any{
			"chat":   chatID,
			"user":   userID,
			"reason": reason,
			"old":    change.OldScore,
			"new":    change.NewScore,
		})
	}
	if change.NewTier != change.OldTier {
		logger.InfoCF("karma", "tier changed", map[string]any{
			"chat": chatID,
			"user": userID,
			"from": change.OldTier,
			"to":   change.NewTier,
		})
	}
	return change
}

// AnalyzeAndUpdate runs the content detectors over one message and
// applies each matching adjustment.
func (e *Engine) AnalyzeAndUpdate(chatID, userID, text string) []Change {
	var changes []Change
	if gratitudeRe.MatchString(text) {
		changes = append(changes, e.Update(chatID, userID, e.cfg.GratitudeDelta, "gratitude"))
	}
	if praiseRe.MatchString(text) {
		changes = append(changes, e.Update(chatID, userID, e.cfg.PraiseDelta, "praise"))
	}
	if insultRe.MatchString(text) {
		changes = append(changes, e.Update(chatID, userID, e.cfg.InsultDelta, "insult"))
	}
	return changes
}

// FirstInteractionBonus grants the one-time welcome bonus. It returns
// false when the user has already interacted.
func (e *Engine) FirstInteractionBonus(chatID, userID string) (Change, bool) {
	if !e.profiles.MarkInteracted(chatID, userID) {
		return Change{}, false
	}
	return e.Update(chatID, userID, e.cfg.FirstInteractionBonus, "first_interaction"), true
}

// TierOf is a convenience lookup of the user's current tier.
func (e *Engine) TierOf(chatID, userID string) string {
	return TierFor(e.profiles.Get(chatID, userID).Relationship)
}
