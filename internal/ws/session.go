package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"parley/internal/channels"
	"parley/internal/content"
	"parley/internal/models"

	"github.com/gorilla/websocket"
)

const endpointBuffer = 256

type wsConnection interface {
	Close() error
	ReadJSON(v any) error
	WriteMessage(messageType int, data []byte) error
}

type coreService interface {
	JoinPersonal(self models.User, peer string, ep channels.Endpoint) (models.Conversation, error)
	JoinGroup(self models.User, room string, ep channels.Endpoint) (models.Conversation, error)
	Leave(self models.User, conv models.Conversation, ep channels.Endpoint, joined bool)
	SubscribeNotifications(self models.User, ep channels.Endpoint) error
	UnsubscribeNotifications(self models.User, ep channels.Endpoint)
	SendMessage(self models.User, conv models.Conversation, text string) error
	Typing(self models.User, conv models.Conversation, typing bool)
	MarkRead(self models.User, conv models.Conversation) error
}

// Session is the per-connection state machine. It owns the connection's
// outbound endpoint and is the only goroutine pair touching the socket;
// all cross-session traffic flows through the channel registry.
type Session struct {
	ws   wsConnection
	core coreService
	user models.User

	out        channels.Endpoint
	fromClient chan models.ClientEvent
	errorCh    chan error

	conv   models.Conversation
	joined bool
}

func NewSession(core coreService, ws wsConnection, user models.User) *Session {
	return &Session{
		ws:         ws,
		core:       core,
		user:       user,
		out:        channels.NewEndpoint(endpointBuffer),
		fromClient: make(chan models.ClientEvent),
		errorCh:    make(chan error, 2),
	}
}

// JoinPersonal moves the session into its conversation-serving state
// bound to the personal conversation with peer.
func (s *Session) JoinPersonal(peer string) error {
	conv, err := s.core.JoinPersonal(s.user, peer, s.out)
	if err != nil {
		return err
	}
	s.conv = conv
	s.joined = true
	return nil
}

// JoinGroup moves the session into its conversation-serving state bound
// to the named group conversation.
func (s *Session) JoinGroup(room string) error {
	conv, err := s.core.JoinGroup(s.user, room, s.out)
	if err != nil {
		return err
	}
	s.conv = conv
	s.joined = true
	return nil
}

// SubscribeNotifications runs the reduced, notification-only state
// machine: no conversation, just the user's notification channel.
func (s *Session) SubscribeNotifications() error {
	return s.core.SubscribeNotifications(s.user, s.out)
}

// Handle pumps the connection until the transport closes, the context
// is cancelled or an error occurs. Channel unsubscription and presence
// cleanup run on every exit path, including error-triggered ones.
func (s *Session) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		if s.joined {
			s.core.Leave(s.user, s.conv, s.out, true)
		} else {
			s.core.UnsubscribeNotifications(s.user, s.out)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		s.errorCh <- s.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		s.errorCh <- s.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-s.errorCh:
	case <-ctx.Done():
	}
	s.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Session) pumpEvents(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := s.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case s.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-s.fromClient:
			s.dispatch(ev)
		case payload := <-s.out:
			if err := s.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) dispatch(ev models.ClientEvent) {
	if !s.joined {
		log.Printf("ignoring %q event on notification session of %s", ev.Type, s.user.Username)
		return
	}

	switch ev.Type {
	case models.EventChatMessage:
		if err := s.core.SendMessage(s.user, s.conv, ev.Message); err != nil {
			if errors.Is(err, content.ErrEmptyMessage) || errors.Is(err, content.ErrMessageTooLong) {
				log.Printf("dropping malformed chat_message from %s: %v", s.user.Username, err)
				return
			}
			log.Printf("chat_message from %s failed: %v", s.user.Username, err)
			s.sendError("message could not be delivered")
		}
	case models.EventTyping:
		s.core.Typing(s.user, s.conv, ev.Typing)
	case models.EventReadMessages:
		if err := s.core.MarkRead(s.user, s.conv); err != nil {
			log.Printf("read_messages from %s failed: %v", s.user.Username, err)
			s.sendError("messages could not be marked read")
		}
	default:
		log.Printf("ignoring unknown event type %q from %s", ev.Type, s.user.Username)
	}
}

// sendError queues a protocol error frame to this client only. A full
// outbound buffer drops it; the connection stays open either way.
func (s *Session) sendError(message string) {
	payload, err := json.Marshal(models.ErrorEvent{
		Type:    models.EventError,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case s.out <- payload:
	default:
	}
}
