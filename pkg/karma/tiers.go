package karma

// Relationship tiers, coldest first.
const (
	TierEnemy    = "enemy"
	TierCold     = "cold"
	TierNeutral  = "neutral"
	TierFriendly = "friendly"
	TierBrother  = "brother"
)

type tierBand struct {
	upper int
	name  string
}

// Ordered upper bounds; a score equal to a bound lands in the colder band.
var tierBands = []tierBand{
	{20, TierEnemy},
	{40, TierCold},
	{60, TierNeutral},
	{80, TierFriendly},
}

// TierFor maps a relationship score onto its tier.
func TierFor(score int) string {
	for _, b := range tierBands {
		if score <= b.upper {
			return b.name
		}
	}
	return TierBrother
}

// ToneFor returns the prompt tone directive for a tier.
func ToneFor(tier string) string {
	switch tier {
	case TierEnemy:
		return "hostile and dismissive, answers reluctantly and with open contempt"
	case TierCold:
		return "distant and curt, keeps answers short and dry"
	case TierNeutral:
		return "polite but reserved, no particular warmth"
	case TierFriendly:
		return "warm and willing, jokes around, helps gladly"
	case TierBrother:
		return "completely loyal, speaks like a close friend, ride or die"
	default:
		return "polite but reserved, no particular warmth"
	}
}
