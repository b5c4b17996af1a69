package models

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrUserExists  = errors.New("user already exists")
	ErrUnavailable = errors.New("storage unavailable")
)

type ConversationType string

const (
	ConversationPersonal ConversationType = "personal"
	ConversationGroup    ConversationType = "group"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusSeen MessageStatus = "seen"
)

// User represents a registered user. Users are addressed by username
// everywhere: routes, presence and notification channels.
type User struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	DisplayPhotoURL string `json:"display_photo_url"`
	CreatedAt       int64  `json:"created_at"`

	// LastConversationID is the conversation the user was viewing when
	// they logged out, so the client can reopen it after login.
	LastConversationID string `json:"last_conversation_id,omitempty"`
}

// Conversation is a persistent chat thread: personal (exactly two
// members) or group (named, arbitrary member set). At most one personal
// conversation exists per unordered user pair.
type Conversation struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Type      ConversationType `json:"type"`
	Members   []string         `json:"members"`
	CreatedAt int64            `json:"created_at"`
}

// Other returns the member that is not the given user. Only meaningful
// for personal conversations.
func (c Conversation) Other(username string) string {
	for _, m := range c.Members {
		if m != username {
			return m
		}
	}
	return ""
}

// HasMember reports whether username belongs to the conversation.
func (c Conversation) HasMember(username string) bool {
	for _, m := range c.Members {
		if m == username {
			return true
		}
	}
	return false
}

// Message belongs to exactly one conversation. Content is immutable
// after creation; only Status and Read flip when the recipient sees it.
// Recipient is empty for group messages.
type Message struct {
	ID             string        `json:"id"`
	Seq            uint64        `json:"seq"`
	ConversationID string        `json:"conversation_id"`
	Sender         string        `json:"sender"`
	Recipient      string        `json:"recipient,omitempty"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	Read           bool          `json:"read"`
	CreatedAt      int64         `json:"created_at"`
}

// UserView is the wire representation of a user.
type UserView struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	DisplayPhotoURL string `json:"display_photo_url"`
}

func (u User) View() UserView {
	return UserView{
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Username:        u.Username,
		Email:           u.Email,
		DisplayPhotoURL: u.DisplayPhotoURL,
	}
}

// MessageView is the wire representation of a message. Recipient is nil
// for group messages.
type MessageView struct {
	ID        string        `json:"id"`
	Sender    UserView      `json:"sender"`
	Recipient *UserView     `json:"recipient"`
	Content   string        `json:"content"`
	CreatedAt int64         `json:"created_at"`
	Status    MessageStatus `json:"status"`
	Read      bool          `json:"read"`
}

// ConversationUnread is one entry of the per-conversation unread
// breakdown pushed on the notification channel.
type ConversationUnread struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}
