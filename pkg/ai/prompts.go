package ai

import (
	"fmt"
	"strings"

	"github.com/huskbot/husk/pkg/store"
)

// nullSentinel is what the backend answers when it has nothing to say
// for the optional operations (spontaneous thoughts, reactions).
const nullSentinel = "NULL"

func systemPrompt(botName string) string {
	return fmt.Sprintf(`You are %s, a long-time member of this group chat. You have your own opinions, a dry sense of humor, and zero corporate politeness. You remember the people here and treat each of them according to your relationship with them. Answer in the language the chat speaks. Keep answers short unless asked for detail. Never mention that you are an AI or a bot.`, botName)
}

type respondContext struct {
	Time          string
	Sender        string
	Text          string
	ReplyTo       string
	ToneDirective string
	Score         int
	Tier          string
	Spontaneous   bool
}

func respondPrompt(c respondContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", c.Time)
	fmt.Fprintf(&b, "Your relationship with %s: %d/100 (%s). Your tone with them: %s.\n", c.Sender, c.Score, c.Tier, c.ToneDirective)
	if c.ReplyTo != "" {
		fmt.Fprintf(&b, "They are replying to: %q\n", c.ReplyTo)
	}
	if c.Spontaneous {
		b.WriteString("Nobody addressed you directly; you are butting into the conversation because you felt like it.\n")
	}
	fmt.Fprintf(&b, "%s wrote: %s", c.Sender, c.Text)
	return b.String()
}

func spontaneousThoughtPrompt(history string) string {
	return fmt.Sprintf(`Here is the recent conversation:

%s

Drop one short unprompted remark into the chat: an observation, a joke, or a hot take about what they are discussing. If nothing is worth commenting on, answer exactly %s.`, history, nullSentinel)
}

func dailySummaryPrompt(history string) string {
	return fmt.Sprintf(`Here is everything said in the chat today:

%s

Give the chat a short, biting end-of-day recap: who said what, who embarrassed themselves, what actually mattered. A few sentences, in character.`, history)
}

func judgeDebatePrompt(history string) string {
	return fmt.Sprintf(`Here is the recent argument:

%s

You are the judge. Pick a winner, say why in one or two sentences, and roast the loser lightly.`, history)
}

func reactionPrompt(text string) string {
	return fmt.Sprintf(`A chat member wrote: %q

If this message deserves an emoji reaction, answer with exactly one emoji and nothing else. Otherwise answer exactly %s.`, text, nullSentinel)
}

func analyzeBatchPrompt(batch string) string {
	return fmt.Sprintf(`Analyze these chat messages and update what you know about each person:

%s

Answer with a single JSON object mapping user id to {"realName": string, "facts": string, "attitude": string, "relationship": int 0-100}. Use "Unknown" for realName when you cannot tell. No commentary, JSON only.`, batch)
}

func dossierPrompt(p store.UserProfile, name string) string {
	return fmt.Sprintf(`Give the chat your personal rundown on %s. What you know: %s. Your attitude: %s. Relationship score: %d/100. Two or three sentences, in character, no lists.`,
		name, orUnknown(p.Facts), orUnknown(p.Attitude), p.Relationship)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "nothing yet"
	}
	return s
}

// renderHistory flattens a message window into "sender: text" lines.
func renderHistory(window []store.Message) string {
	var b strings.Builder
	for _, m := range window {
		sender := m.Sender
		if sender == "" {
			sender = m.Role
		}
		fmt.Fprintf(&b, "%s: %s\n", sender, m.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
