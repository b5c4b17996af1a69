package ws

import (
	"log"
	"net/http"

	"parley/internal/models"

	"github.com/gorilla/websocket"
)

type tokenResolver interface {
	Username(token string) (string, error)
}

type userDirectory interface {
	GetUser(username string) (models.User, error)
}

// Server upgrades authenticated HTTP requests into chat and
// notification sessions. Requests without a valid identity are refused
// before the upgrade: no session exists yet, so no protocol error is
// sent.
type Server struct {
	auth     tokenResolver
	users    userDirectory
	core     coreService
	upgrader *websocket.Upgrader
}

func NewServer(auth tokenResolver, users userDirectory, core coreService) *Server {
	return &Server{
		auth:  auth,
		users: users,
		core:  core,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandlePersonalChat serves GET /ws/chat/{username}: a session bound to
// the personal conversation with the peer named in the route.
func (s *Server) HandlePersonalChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	peer := r.PathValue("username")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	sess := NewSession(s.core, conn, user)
	if err := sess.JoinPersonal(peer); err != nil {
		log.Printf("join personal chat %s -> %s failed: %v", user.Username, peer, err)
		_ = conn.Close()
		return
	}
	if err := sess.Handle(r.Context()); err != nil {
		log.Printf("session of %s ended: %v", user.Username, err)
	}
}

// HandleGroupChat serves GET /ws/chat/room/{room}: a session bound to
// the named group conversation, created on first join.
func (s *Server) HandleGroupChat(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	room := r.PathValue("room")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	sess := NewSession(s.core, conn, user)
	if err := sess.JoinGroup(room); err != nil {
		log.Printf("join room %s by %s failed: %v", room, user.Username, err)
		_ = conn.Close()
		return
	}
	if err := sess.Handle(r.Context()); err != nil {
		log.Printf("session of %s ended: %v", user.Username, err)
	}
}

// HandleNotifications serves GET /ws/notifications: the reduced,
// notification-only session.
func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	sess := NewSession(s.core, conn, user)
	if err := sess.SubscribeNotifications(); err != nil {
		log.Printf("notification subscribe for %s failed: %v", user.Username, err)
		_ = conn.Close()
		return
	}
	if err := sess.Handle(r.Context()); err != nil {
		log.Printf("notification session of %s ended: %v", user.Username, err)
	}
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		// Browser websocket clients cannot set headers.
		token = r.URL.Query().Get("token")
	}

	username, err := s.auth.Username(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return models.User{}, false
	}

	user, err := s.users.GetUser(username)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}
