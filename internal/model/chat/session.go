package chat

import "time"

// User holds the profile a transport knows about a user.
type User struct {
	ID        UserID    `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// InboundMessage is what a transport delivers for one user message.
type InboundMessage struct {
	UserID    UserID
	Text      string
	Timestamp time.Time
	// Profile is optional; transports that know the sender fill it in.
	Profile *User
}

// OutboundMessage is a reply to be delivered by a transport.
type OutboundMessage struct {
	UserID UserID `json:"userId"`
	Text   string `json:"text"`
}
