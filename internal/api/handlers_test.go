package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/auth"
	"parley/internal/channels"
	"parley/internal/chat"
	"parley/internal/models"
	"parley/internal/presence"
	"parley/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMux wires the handlers onto the same route patterns the server
// registers, so PathValue resolution works in tests.
func newTestMux(t *testing.T) (*http.ServeMux, *storage.BboltStorage) {
	t.Helper()

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	authService := auth.NewService(ctx, auth.Config{TokenExpiry: time.Hour}, store)
	core := chat.NewService(store, channels.NewRegistry(), presence.NewTracker(), nil)
	a := New(authService, core, store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", a.LoginHandler)
	mux.HandleFunc("POST /api/logout", a.RequireAuth(a.LogoutHandler))
	mux.HandleFunc("POST /api/users", a.CreateUserHandler)
	mux.HandleFunc("GET /api/users/{username}", a.RequireAuth(a.GetUserHandler))
	mux.HandleFunc("GET /api/chats", a.RequireAuth(a.ChatsHandler))
	mux.HandleFunc("GET /api/chat/{username}/messages", a.RequireAuth(a.MessagesHandler))
	mux.HandleFunc("POST /api/push/subscribe", a.RequireAuth(a.PushSubscribeHandler))
	return mux, store
}

func doJSON(mux *http.ServeMux, method, target, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// createUser registers a user over the API and returns the issued token.
func createUser(t *testing.T, mux *http.ServeMux, username string) string {
	t.Helper()
	rec := doJSON(mux, http.MethodPost, "/api/users", "", auth.CreateUserRequest{
		FirstName: username,
		Username:  username,
		Email:     username + "@example.com",
		Password:  "секрет-" + username,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
		Username    string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, username, resp.Username)
	return resp.AccessToken
}

func TestCreateUser(t *testing.T) {
	mux, store := newTestMux(t)

	token := createUser(t, mux, "alice")

	// The token works immediately, no separate login needed.
	rec := doJSON(mux, http.MethodGet, "/api/chats", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	user, err := store.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestCreateUser_Validation(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(mux, http.MethodPost, "/api/users", "", auth.CreateUserRequest{
		Username: "no spaces allowed",
		Password: "pw",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(mux, http.MethodPost, "/api/users", "", auth.CreateUserRequest{
		Username: "alice",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing password")
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	mux, _ := newTestMux(t)
	createUser(t, mux, "alice")

	rec := doJSON(mux, http.MethodPost, "/api/users", "", auth.CreateUserRequest{
		Username: "alice",
		Password: "another",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin(t *testing.T) {
	mux, _ := newTestMux(t)
	createUser(t, mux, "alice")

	rec := doJSON(mux, http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice",
		"password": "секрет-alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
	assert.Equal(t, "alice", resp["username"])

	// Token also arrives as a cookie for browser clients.
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "token", cookies[0].Name)
	assert.Equal(t, resp["token"], cookies[0].Value)
}

func TestLogin_BadPassword(t *testing.T) {
	mux, _ := newTestMux(t)
	createUser(t, mux, "alice")

	rec := doJSON(mux, http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_RevokesTokenAndStoresPointer(t *testing.T) {
	mux, store := newTestMux(t)
	token := createUser(t, mux, "alice")

	rec := doJSON(mux, http.MethodPost, "/api/logout", token, map[string]string{
		"conversation_id": "conv-42",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	user, err := store.GetUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "conv-42", user.LastConversationID)

	// The token is dead now.
	rec = doJSON(mux, http.MethodGet, "/api/chats", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The next login hands the pointer back.
	rec = doJSON(mux, http.MethodPost, "/api/login", "", map[string]string{
		"username": "alice",
		"password": "секрет-alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conv-42", resp["last_conversation_id"])
}

func TestRequireAuth(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(mux, http.MethodGet, "/api/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(mux, http.MethodGet, "/api/chats", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUser(t *testing.T) {
	mux, _ := newTestMux(t)
	token := createUser(t, mux, "alice")
	createUser(t, mux, "bob")

	rec := doJSON(mux, http.MethodGet, "/api/users/bob", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view models.UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "bob", view.Username)
	assert.Equal(t, "bob@example.com", view.Email)

	rec = doJSON(mux, http.MethodGet, "/api/users/ghost", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatsAndMessages(t *testing.T) {
	mux, store := newTestMux(t)
	tokenA := createUser(t, mux, "alice")
	createUser(t, mux, "bob")

	// No conversations yet.
	rec := doJSON(mux, http.MethodGet, "/api/chats", tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	// Fetching history creates the conversation on first contact.
	rec = doJSON(mux, http.MethodGet, "/api/chat/bob/messages", tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	conv, err := store.GetOrCreatePersonalConversation("alice", "bob")
	require.NoError(t, err)
	_, err = store.CreateMessage(conv.ID, "alice", "bob", "hello")
	require.NoError(t, err)

	rec = doJSON(mux, http.MethodGet, "/api/chat/bob/messages", tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var messages []models.MessageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, "alice", messages[0].Sender.Username)

	rec = doJSON(mux, http.MethodGet, "/api/chats", tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []chat.ConversationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, conv.ID, summaries[0].ID)
	require.NotNil(t, summaries[0].OtherUser)
	assert.Equal(t, "bob", summaries[0].OtherUser.Username)

	rec = doJSON(mux, http.MethodGet, "/api/chat/ghost/messages", tokenA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPushSubscribe(t *testing.T) {
	mux, store := newTestMux(t)
	token := createUser(t, mux, "alice")

	subscription := map[string]any{
		"endpoint": "https://push.example.com/send/abc",
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}
	rec := doJSON(mux, http.MethodPost, "/api/push/subscribe", token, subscription)
	assert.Equal(t, http.StatusCreated, rec.Code)

	stored, err := store.GetPushSubscription("alice")
	require.NoError(t, err)
	assert.True(t, json.Valid(stored))

	// Garbage bodies are rejected before they hit storage.
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader("not json"))
	req.Header.Set("token", token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
