package models

// Event type tags carried in the "type" field of every frame.
const (
	EventUnreadCount            = "unread_count"
	EventOnlineUserList         = "online_user_list"
	EventWelcomeMessage         = "welcome_message"
	EventLastMessages           = "last_50_messages"
	EventUserJoin               = "user_join"
	EventUserLeave              = "user_leave"
	EventChatMessage            = "chat_message"
	EventTyping                 = "typing"
	EventReadMessages           = "read_messages"
	EventSeenMessage            = "seen_message"
	EventNewMessageNotification = "new_message_notification"
	EventError                  = "error"
)

// ClientEvent is an inbound frame from a connected client. Unknown
// types and missing fields are ignored, never fatal.
type ClientEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Typing  bool   `json:"typing,omitempty"`
}

type UnreadCountEvent struct {
	Type                      string               `json:"type"`
	UnreadCount               int                  `json:"unread_count"`
	ConversationsUnreadCounts []ConversationUnread `json:"conversations_unread_counts"`
}

type OnlineUserListEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type WelcomeMessageEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type LastMessagesEvent struct {
	Type     string        `json:"type"`
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// UserEvent covers user_join, user_leave and seen_message, which all
// carry just the acting username.
type UserEvent struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type ChatMessageEvent struct {
	Type           string      `json:"type"`
	Message        MessageView `json:"message"`
	ConversationID string      `json:"conversation_id"`
}

type TypingEvent struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Typing bool   `json:"typing"`
}

type NewMessageNotificationEvent struct {
	Type string `json:"type"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
