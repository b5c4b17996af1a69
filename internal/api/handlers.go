// Package api is the REST collaborator surface around the real-time
// core: login, user profiles, conversation and message listings, and
// push subscription registration.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"parley/internal/auth"
	"parley/internal/chat"
	"parley/internal/content"
	"parley/internal/models"
)

const maxSubscriptionBytes = 8 << 10

// profileStore is the slice of storage the handlers touch directly.
type profileStore interface {
	GetUser(username string) (models.User, error)
	UpdateLastConversation(username, conversationID string) error
	SavePushSubscription(username string, subscription []byte) error
}

type API struct {
	auth  *auth.Service
	core  *chat.Service
	store profileStore
}

func New(authService *auth.Service, core *chat.Service, store profileStore) *API {
	return &API{auth: authService, core: core, store: store}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	// Support both JSON and form bodies.
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	token, expiry, err := a.auth.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(expiry, 0),
	})

	resp := map[string]string{
		"token":    token,
		"username": req.Username,
	}
	// Hand back the conversation the user had open when they last
	// logged out, so the client can reopen it.
	if user, err := a.store.GetUser(req.Username); err == nil && user.LastConversationID != "" {
		resp["last_conversation_id"] = user.LastConversationID
	}
	writeJSON(w, resp)
}

// LogoutHandler revokes the token and, when the client says which
// conversation it was viewing, persists that pointer.
func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request, user models.User) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ConversationID != "" {
		if err := a.store.UpdateLastConversation(user.Username, req.ConversationID); err != nil {
			log.Printf("failed to persist last conversation for %s: %v", user.Username, err)
		}
	}

	if token := getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusOK)
}

func (a *API) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}
	req.FirstName = content.SanitizeText(req.FirstName)
	req.LastName = content.SanitizeText(req.LastName)

	user, token, err := a.auth.CreateUser(req)
	if err != nil {
		if errors.Is(err, models.ErrUserExists) {
			http.Error(w, "username is taken", http.StatusConflict)
			return
		}
		log.Printf("failed to create user %s: %v", req.Username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	resp := struct {
		AccessToken string `json:"access_token"`
		models.UserView
	}{
		AccessToken: token,
		UserView:    user.View(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (a *API) GetUserHandler(w http.ResponseWriter, r *http.Request, _ models.User) {
	user, err := a.store.GetUser(r.PathValue("username"))
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	writeJSON(w, user.View())
}

func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request, user models.User) {
	summaries, err := a.core.ConversationSummaries(user)
	if err != nil {
		log.Printf("failed to list conversations for %s: %v", user.Username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summaries)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, user models.User) {
	messages, err := a.core.ConversationHistory(user, r.PathValue("username"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		log.Printf("failed to list messages for %s: %v", user.Username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, messages)
}

// PushSubscribeHandler stores the browser's Web Push subscription so
// notification events can reach the user while offline.
func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request, user models.User) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubscriptionBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "subscription must be JSON", http.StatusBadRequest)
		return
	}
	if err := a.store.SavePushSubscription(user.Username, body); err != nil {
		log.Printf("failed to save push subscription for %s: %v", user.Username, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RequireAuth resolves the request token to a user before calling next.
func (a *API) RequireAuth(next func(http.ResponseWriter, *http.Request, models.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := a.auth.Username(getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := a.store.GetUser(username)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
