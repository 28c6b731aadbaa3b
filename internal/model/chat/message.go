package chat

import "time"

// UserID identifies one end user across all turns and mood entries.
type UserID string

// Role marks who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one immutable message of a conversation, as persisted in the log.
type Turn struct {
	ID         string    `json:"id"`
	UserID     UserID    `json:"userId"`
	ExchangeID string    `json:"exchangeId,omitempty"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}
