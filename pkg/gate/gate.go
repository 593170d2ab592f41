package gate

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/karma"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/store"
)

// Verdict explains why a message was admitted or dropped.
type Verdict string

const (
	VerdictOK        Verdict = "ok"
	VerdictFlood     Verdict = "flood"
	VerdictDailyCap  Verdict = "daily_cap"
	VerdictProtected Verdict = "protected" // over the cap but score buys it through
)

// RespondReason explains why ShouldRespond fired.
type RespondReason string

const (
	ReasonTrigger     RespondReason = "trigger_word"
	ReasonCommand     RespondReason = "command"
	ReasonFirstHello  RespondReason = "first_interaction"
	ReasonFollowUp    RespondReason = "follow_up"
	ReasonSpontaneous RespondReason = "spontaneous"
	ReasonNone        RespondReason = ""
)

// Gate decides whether an inbound message is admitted and whether the
// bot answers it. All state is per (chat, user) and in-memory.
type Gate struct {
	mu sync.Mutex

	botCfg   config.BotConfig
	gateCfg  config.GateConfig
	karmaCfg config.KarmaConfig

	lastSeen map[string]time.Time
	daily    map[string]int
	dailyDay string

	rand func() float64 // injectable for tests
	now  func() time.Time
}

func New(botCfg config.BotConfig, gateCfg config.GateConfig, karmaCfg config.KarmaConfig) *Gate {
	return &Gate{
		botCfg:   botCfg,
		gateCfg:  gateCfg,
		karmaCfg: karmaCfg,
		lastSeen: make(map[string]time.Time),
		daily:    make(map[string]int),
		rand:     rand.Float64,
		now:      time.Now,
	}
}

func key(chatID, userID string) string {
	return chatID + "|" + userID
}

// Admit runs flood control and the daily ceiling, in that order. A user
// over the daily cap still gets through while their relationship score
// is at or above the protection threshold.
func (g *Gate) Admit(chatID, userID string, score int) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	k := key(chatID, userID)

	if last, ok := g.lastSeen[k]; ok {
		if now.Sub(last) < time.Duration(g.gateCfg.FloodIntervalMS)*time.Millisecond {
			return VerdictFlood
		}
	}
	g.lastSeen[k] = now

	day := now.Format("2006-01-02")
	if day != g.dailyDay {
		g.daily = make(map[string]int)
		g.dailyDay = day
	}
	g.daily[k]++

	if g.daily[k] > g.karmaCfg.DailyMessageLimit {
		if score >= g.karmaCfg.ProtectionThreshold {
			return VerdictProtected
		}
		logger.DebugCF("gate", "daily cap reached", map[string]any{"chat": chatID, "user": userID})
		return VerdictDailyCap
	}
	return VerdictOK
}

// ShouldRespond decides whether the bot answers the message. Checks run
// in strict precedence order; the spontaneous draw happens only when
// nothing else fires.
func (g *Gate) ShouldRespond(text string, profile store.UserProfile, window []store.Message) (bool, RespondReason) {
	lower := strings.ToLower(text)
	for _, w := range g.botCfg.TriggerWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true, ReasonTrigger
		}
	}

	if g.botCfg.CommandPrefix != "" && strings.HasPrefix(strings.TrimSpace(text), g.botCfg.CommandPrefix) {
		return true, ReasonCommand
	}

	if profile.IsFirstInteraction {
		return true, ReasonFirstHello
	}

	if len(window) > 0 && window[len(window)-1].Role == store.RoleAssistant {
		return true, ReasonFollowUp
	}

	// Two draws: the first picks this message's chance from the
	// configured range, the second decides.
	chance := g.gateCfg.SpontaneousMin + g.rand()*(g.gateCfg.SpontaneousMax-g.gateCfg.SpontaneousMin)
	if g.rand() < chance {
		return true, ReasonSpontaneous
	}
	return false, ReasonNone
}

// delayByTier is the pre-send pause per relationship tier. Warmer
// relationships answer faster.
var delayByTier = map[string]time.Duration{
	karma.TierEnemy:    5 * time.Second,
	karma.TierCold:     3 * time.Second,
	karma.TierNeutral:  1 * time.Second,
	karma.TierFriendly: 500 * time.Millisecond,
	karma.TierBrother:  0,
}

// Delay returns the artificial response delay for a tier.
func (g *Gate) Delay(tier string) time.Duration {
	if d, ok := delayByTier[tier]; ok {
		return d
	}
	return delayByTier[karma.TierNeutral]
}

// SetRandSource replaces the random source. Test hook.
func (g *Gate) SetRandSource(f func() float64) {
	g.rand = f
}

// SetClock replaces the time source. Test hook.
func (g *Gate) SetClock(f func() time.Time) {
	g.now = f
}
