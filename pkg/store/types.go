package store

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Spontaneous message types. Regular messages leave Type empty.
const (
	TypeSpontaneousReaction = "spontaneous_reaction"
	TypeSpontaneousThought  = "spontaneous_thought"
)

// Message is one chat history entry. It lives in the bounded in-memory
// window and, durably, as one JSON object per line in the chat's log.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId,omitempty"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type,omitempty"`
}

// logRecord is the durable form of a Message: the same fields plus the
// time the line was written.
type logRecord struct {
	Message
	SavedAt time.Time `json:"saved_at"`
}

// UserProfile is the bot's persistent knowledge about one chat member.
// Relationship is always within [0, 100] after every write.
type UserProfile struct {
	RealName           string     `json:"real_name,omitempty"`
	Facts              string     `json:"facts"`
	Attitude           string     `json:"attitude"`
	Relationship       int        `json:"relationship"`
	IsFirstInteraction bool       `json:"is_first_interaction"`
	LastInteraction    *time.Time `json:"last_interaction,omitempty"`
}

// ProfileUpdate is a partial profile write. Nil fields are left untouched.
type ProfileUpdate struct {
	RealName     *string
	Facts        *string
	Attitude     *string
	Relationship *int
}

// Stats describes one chat's durable log.
type Stats struct {
	TotalMessages int
	SizeBytes     int64
}
