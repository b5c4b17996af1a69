// Package chat implements the real-time messaging core: joining and
// leaving conversations, message fan-out, typing indicators, read
// receipts and unread-count notifications.
package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"parley/internal/channels"
	"parley/internal/content"
	"parley/internal/models"
	"parley/internal/presence"
)

// SnapshotLimit is how many recent messages a joining client receives.
const SnapshotLimit = 50

const welcomeText = "Hey there! You've successfully connected!"

// NotificationChannel derives the per-user notification channel name.
func NotificationChannel(username string) string {
	return username + "__notifications"
}

// Store is the durable side of the core: conversations and messages.
type Store interface {
	GetUser(username string) (models.User, error)
	GetOrCreatePersonalConversation(userA, userB string) (models.Conversation, error)
	GetOrCreateGroupConversation(name, username string) (models.Conversation, error)
	CreateMessage(conversationID, sender, recipient, content string) (models.Message, error)
	ListRecentMessages(conversationID string, limit int) ([]models.Message, int, error)
	ListMessages(conversationID string) ([]models.Message, error)
	ListConversationsByUser(username string) ([]models.Conversation, error)
	CountUnread(username string) (int, []models.ConversationUnread, error)
	MarkSeen(conversationID, username string) (int, error)
}

// PushSender delivers a notification payload out-of-band when the user
// has no live notification endpoint.
type PushSender interface {
	Enabled() bool
	Send(username string, payload []byte) error
}

type Service struct {
	store    Store
	registry *channels.Registry
	presence *presence.Tracker
	push     PushSender
}

func NewService(store Store, registry *channels.Registry, tracker *presence.Tracker, push PushSender) *Service {
	return &Service{
		store:    store,
		registry: registry,
		presence: tracker,
		push:     push,
	}
}

// JoinPersonal resolves (or creates on first contact) the personal
// conversation with peer and joins it. Returns models.ErrNotFound when
// the peer does not exist.
func (s *Service) JoinPersonal(self models.User, peer string, ep channels.Endpoint) (models.Conversation, error) {
	if _, err := s.store.GetUser(peer); err != nil {
		return models.Conversation{}, fmt.Errorf("peer %q: %w", peer, err)
	}

	conv, err := s.store.GetOrCreatePersonalConversation(self.Username, peer)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := s.finishJoin(self, conv, ep); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// JoinGroup resolves (or creates) the named group conversation and
// joins it, adding self to its member set.
func (s *Service) JoinGroup(self models.User, room string, ep channels.Endpoint) (models.Conversation, error) {
	conv, err := s.store.GetOrCreateGroupConversation(room, self.Username)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := s.finishJoin(self, conv, ep); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// finishJoin subscribes the endpoint, announces the arrival and queues
// the initial snapshot. Frame order on the joining endpoint: current
// online list (captured before self is added), the self-inclusive
// user_join broadcast, the welcome acknowledgement, then the recent
// message backfill.
func (s *Service) finishJoin(self models.User, conv models.Conversation, ep channels.Endpoint) error {
	s.registry.Subscribe(conv.ID, ep)
	s.registry.Subscribe(NotificationChannel(self.Username), ep)

	deliver(ep, frame(models.OnlineUserListEvent{
		Type:  models.EventOnlineUserList,
		Users: s.presence.Online(conv.ID),
	}))

	s.registry.Publish(conv.ID, frame(models.UserEvent{
		Type: models.EventUserJoin,
		User: self.Username,
	}))
	s.presence.Join(conv.ID, self.Username)

	deliver(ep, frame(models.WelcomeMessageEvent{
		Type:    models.EventWelcomeMessage,
		Message: welcomeText,
	}))

	messages, total, err := s.store.ListRecentMessages(conv.ID, SnapshotLimit)
	if err != nil {
		s.Leave(self, conv, ep, false)
		return fmt.Errorf("failed to load recent messages: %w", err)
	}
	deliver(ep, frame(models.LastMessagesEvent{
		Type:     models.EventLastMessages,
		Messages: s.messageViews(messages),
		HasMore:  total > SnapshotLimit,
	}))
	return nil
}

// Leave tears the session out of the conversation: unsubscribes both
// channels, clears presence and, if the session had fully joined,
// announces user_leave to the remaining members.
func (s *Service) Leave(self models.User, conv models.Conversation, ep channels.Endpoint, joined bool) {
	s.registry.Unsubscribe(conv.ID, ep)
	s.registry.Unsubscribe(NotificationChannel(self.Username), ep)
	s.presence.Leave(conv.ID, self.Username)

	if joined {
		s.registry.Publish(conv.ID, frame(models.UserEvent{
			Type: models.EventUserLeave,
			User: self.Username,
		}))
	}
}

// SubscribeNotifications attaches a notification-only session and
// queues the single initial unread snapshot.
func (s *Service) SubscribeNotifications(self models.User, ep channels.Endpoint) error {
	s.registry.Subscribe(NotificationChannel(self.Username), ep)

	total, breakdown, err := s.store.CountUnread(self.Username)
	if err != nil {
		s.registry.Unsubscribe(NotificationChannel(self.Username), ep)
		return fmt.Errorf("failed to count unread messages: %w", err)
	}
	deliver(ep, frame(models.UnreadCountEvent{
		Type:                      models.EventUnreadCount,
		UnreadCount:               total,
		ConversationsUnreadCounts: breakdown,
	}))
	return nil
}

func (s *Service) UnsubscribeNotifications(self models.User, ep channels.Endpoint) {
	s.registry.Unsubscribe(NotificationChannel(self.Username), ep)
}

// SendMessage persists the message and fans it out: chat_message to the
// conversation channel, new_message_notification to every other
// member's notification channel. Members with no live notification
// endpoint fall back to Web Push when configured.
func (s *Service) SendMessage(self models.User, conv models.Conversation, text string) error {
	text = content.SanitizeText(text)
	if err := content.ValidateMessage(text); err != nil {
		return err
	}

	recipient := ""
	if conv.Type == models.ConversationPersonal {
		recipient = conv.Other(self.Username)
	}

	msg, err := s.store.CreateMessage(conv.ID, self.Username, recipient, text)
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	s.registry.Publish(conv.ID, frame(models.ChatMessageEvent{
		Type:           models.EventChatMessage,
		Message:        s.messageView(msg),
		ConversationID: conv.ID,
	}))

	notification := frame(models.NewMessageNotificationEvent{
		Type: models.EventNewMessageNotification,
		Name: self.Username,
		ID:   conv.ID,
	})
	for _, member := range conv.Members {
		if member == self.Username {
			continue
		}
		delivered := s.registry.Publish(NotificationChannel(member), notification)
		if delivered == 0 && s.push != nil && s.push.Enabled() {
			go func(member string) {
				if err := s.push.Send(member, notification); err != nil {
					slog.Warn("push delivery failed", "username", member, "error", err)
				}
			}(member)
		}
	}
	return nil
}

// Typing echoes the typing indicator to the conversation. Nothing is
// persisted.
func (s *Service) Typing(self models.User, conv models.Conversation, typing bool) {
	s.registry.Publish(conv.ID, frame(models.TypingEvent{
		Type:   models.EventTyping,
		User:   self.Username,
		Typing: typing,
	}))
}

// MarkRead flips every message in the conversation addressed to self to
// read/seen, pushes the recomputed unread count to self's notification
// channel and announces seen_message on the conversation.
func (s *Service) MarkRead(self models.User, conv models.Conversation) error {
	if _, err := s.store.MarkSeen(conv.ID, self.Username); err != nil {
		return fmt.Errorf("failed to mark messages seen: %w", err)
	}

	total, breakdown, err := s.store.CountUnread(self.Username)
	if err != nil {
		return fmt.Errorf("failed to count unread messages: %w", err)
	}
	s.registry.Publish(NotificationChannel(self.Username), frame(models.UnreadCountEvent{
		Type:                      models.EventUnreadCount,
		UnreadCount:               total,
		ConversationsUnreadCounts: breakdown,
	}))

	s.registry.Publish(conv.ID, frame(models.UserEvent{
		Type: models.EventSeenMessage,
		User: self.Username,
	}))
	return nil
}

// ConversationSummary is what the conversation-listing surface shows:
// the thread plus its counterpart user and latest message.
type ConversationSummary struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Type        models.ConversationType `json:"type"`
	OtherUser   *models.UserView        `json:"other_user"`
	LastMessage *models.MessageView     `json:"last_message"`
	CreatedAt   int64                   `json:"created_at"`
}

// ConversationSummaries lists the user's conversations, most recently
// created first.
func (s *Service) ConversationSummaries(self models.User) ([]ConversationSummary, error) {
	conversations, err := s.store.ListConversationsByUser(self.Username)
	if err != nil {
		return nil, err
	}

	users := make(map[string]models.UserView)
	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summary := ConversationSummary{
			ID:        conv.ID,
			Name:      conv.Name,
			Type:      conv.Type,
			CreatedAt: conv.CreatedAt,
		}
		if conv.Type == models.ConversationPersonal {
			other := s.userView(conv.Other(self.Username), users)
			summary.OtherUser = &other
		}
		if last, _, err := s.store.ListRecentMessages(conv.ID, 1); err == nil && len(last) > 0 {
			view := s.buildView(last[0], users)
			summary.LastMessage = &view
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ConversationHistory returns the full personal conversation with peer
// in creation order, creating the conversation on first contact just
// like the live join path does.
func (s *Service) ConversationHistory(self models.User, peer string) ([]models.MessageView, error) {
	if _, err := s.store.GetUser(peer); err != nil {
		return nil, fmt.Errorf("peer %q: %w", peer, err)
	}
	conv, err := s.store.GetOrCreatePersonalConversation(self.Username, peer)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(conv.ID)
	if err != nil {
		return nil, err
	}
	return s.messageViews(messages), nil
}

// MessageViews resolves wire views for a message slice, preserving
// order.
func (s *Service) messageViews(messages []models.Message) []models.MessageView {
	views := make([]models.MessageView, len(messages))
	users := make(map[string]models.UserView)
	for i, msg := range messages {
		views[i] = s.buildView(msg, users)
	}
	return views
}

func (s *Service) messageView(msg models.Message) models.MessageView {
	return s.buildView(msg, make(map[string]models.UserView))
}

func (s *Service) buildView(msg models.Message, cache map[string]models.UserView) models.MessageView {
	view := models.MessageView{
		ID:        msg.ID,
		Sender:    s.userView(msg.Sender, cache),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Status:    msg.Status,
		Read:      msg.Read,
	}
	if msg.Recipient != "" {
		recipient := s.userView(msg.Recipient, cache)
		view.Recipient = &recipient
	}
	return view
}

func (s *Service) userView(username string, cache map[string]models.UserView) models.UserView {
	if view, ok := cache[username]; ok {
		return view
	}
	view := models.UserView{Username: username}
	if user, err := s.store.GetUser(username); err == nil {
		view = user.View()
	}
	cache[username] = view
	return view
}

// frame marshals an outbound event once so fan-out reuses the bytes.
func frame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal event", "error", err)
		return nil
	}
	return data
}

// deliver queues a frame on a single endpoint without blocking.
func deliver(ep channels.Endpoint, payload []byte) {
	if payload == nil {
		return
	}
	select {
	case ep <- payload:
	default:
	}
}
