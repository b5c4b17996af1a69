// Package http wires the REST handlers and websocket endpoints into
// one server.
package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"parley/internal/api"
	"parley/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", apiHandlers.LoginHandler)
	mux.HandleFunc("POST /api/logout", apiHandlers.RequireAuth(apiHandlers.LogoutHandler))
	mux.HandleFunc("POST /api/users", apiHandlers.CreateUserHandler)
	mux.HandleFunc("GET /api/users/{username}", apiHandlers.RequireAuth(apiHandlers.GetUserHandler))
	mux.HandleFunc("GET /api/chats", apiHandlers.RequireAuth(apiHandlers.ChatsHandler))
	mux.HandleFunc("GET /api/chat/{username}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/push/subscribe", apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler))

	mux.HandleFunc("GET /ws/chat/{username}", wsServer.HandlePersonalChat)
	mux.HandleFunc("GET /ws/chat/room/{room}", wsServer.HandleGroupChat)
	mux.HandleFunc("GET /ws/notifications", wsServer.HandleNotifications)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
