// Package storage is the durable record of users, conversations and
// messages, backed by bbolt. All writes go through serialized update
// transactions, which is what makes get-or-create of a personal
// conversation atomic under concurrent first contact.
package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"parley/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketConversations = []byte("conversations")
	bucketPersonalIndex = []byte("personal_index")
	bucketGroupIndex    = []byte("group_index")
	bucketMessages      = []byte("messages")
	bucketPushSubs      = []byte("push_subscriptions")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketUsers,
			bucketConversations,
			bucketPersonalIndex,
			bucketGroupIndex,
			bucketMessages,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// CreateUser stores a new user with their password hash. Returns
// models.ErrUserExists when the username is taken.
func (s *BboltStorage) CreateUser(user models.User, passwordHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get([]byte(user.Username)) != nil {
			return models.ErrUserExists
		}

		dbu := &dbUser{
			Username:        user.Username,
			ID:              user.ID,
			FirstName:       user.FirstName,
			LastName:        user.LastName,
			Email:           user.Email,
			DisplayPhotoURL: user.DisplayPhotoURL,
			PasswordHash:    passwordHash,
			CreatedAt:       user.CreatedAt,
		}
		data, err := dbu.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbu.Key(), data)
	})
}

// GetUser returns the user with the given username.
func (s *BboltStorage) GetUser(username string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbu, err := getUser(tx, username)
		if err != nil {
			return err
		}
		user = dbu.toModel()
		return nil
	})
	return user, err
}

// GetCredentials returns the user together with their password hash.
func (s *BboltStorage) GetCredentials(username string) (models.User, string, error) {
	var (
		user models.User
		hash string
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbu, err := getUser(tx, username)
		if err != nil {
			return err
		}
		user = dbu.toModel()
		hash = dbu.PasswordHash
		return nil
	})
	return user, hash, err
}

// UpdateLastConversation persists the "last viewed conversation"
// pointer saved on logout.
func (s *BboltStorage) UpdateLastConversation(username, conversationID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbu, err := getUser(tx, username)
		if err != nil {
			return err
		}
		dbu.LastConversationID = conversationID
		data, err := dbu.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbu.Key(), data)
	})
}

// GetOrCreatePersonalConversation resolves the unique personal
// conversation between the two users, creating it on first contact.
// The pair index is keyed by the sorted username pair and both lookup
// and insert happen in one update transaction, so concurrent first
// contacts resolve to a single winner.
func (s *BboltStorage) GetOrCreatePersonalConversation(userA, userB string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketPersonalIndex)
		key := personalPairKey(userA, userB)

		if id := idx.Get(key); id != nil {
			dbc, err := getConversation(tx, string(id))
			if err != nil {
				return err
			}
			conv = dbc.toModel()
			return nil
		}

		dbc := &dbConversation{
			ID:        uuid.NewString(),
			Name:      userA + "__" + userB,
			Type:      string(models.ConversationPersonal),
			Members:   []string{userA, userB},
			CreatedAt: s.now().Unix(),
		}
		if err := putConversation(tx, dbc); err != nil {
			return err
		}
		if err := idx.Put(key, []byte(dbc.ID)); err != nil {
			return err
		}
		conv = dbc.toModel()
		return nil
	})
	return conv, err
}

// GetOrCreateGroupConversation resolves a group conversation by name,
// creating it if needed. The joining user becomes a member either way.
func (s *BboltStorage) GetOrCreateGroupConversation(name, username string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketGroupIndex)

		if id := idx.Get([]byte(name)); id != nil {
			dbc, err := getConversation(tx, string(id))
			if err != nil {
				return err
			}
			if !containsMember(dbc.Members, username) {
				dbc.Members = append(dbc.Members, username)
				if err := putConversation(tx, dbc); err != nil {
					return err
				}
			}
			conv = dbc.toModel()
			return nil
		}

		dbc := &dbConversation{
			ID:        uuid.NewString(),
			Name:      name,
			Type:      string(models.ConversationGroup),
			Members:   []string{username},
			CreatedAt: s.now().Unix(),
		}
		if err := putConversation(tx, dbc); err != nil {
			return err
		}
		if err := idx.Put([]byte(name), []byte(dbc.ID)); err != nil {
			return err
		}
		conv = dbc.toModel()
		return nil
	})
	return conv, err
}

// GetConversation returns the conversation with the given ID.
func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbc, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		conv = dbc.toModel()
		return nil
	})
	return conv, err
}

// ListConversationsByUser returns all conversations the user belongs
// to, most recently created first.
func (s *BboltStorage) ListConversationsByUser(username string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var dbc dbConversation
			if err := dbc.UnmarshalBinary(v); err != nil {
				return err
			}
			if containsMember(dbc.Members, username) {
				conversations = append(conversations, dbc.toModel())
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(conversations, func(i, j int) bool {
		if conversations[i].CreatedAt != conversations[j].CreatedAt {
			return conversations[i].CreatedAt > conversations[j].CreatedAt
		}
		return conversations[i].ID < conversations[j].ID
	})
	return conversations, nil
}

// CreateMessage persists a new message in the conversation. Recipient
// is empty for group messages. The message is created unread with
// status "sent".
func (s *BboltStorage) CreateMessage(conversationID, sender, recipient, content string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getConversation(tx, conversationID); err != nil {
			return err
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message sequence: %w", err)
		}

		dbm := &dbMessage{
			ID:             uuid.NewString(),
			Seq:            seq,
			ConversationID: conversationID,
			Sender:         sender,
			Recipient:      recipient,
			Content:        content,
			Status:         string(models.MessageStatusSent),
			Read:           false,
			CreatedAt:      s.now().Unix(),
		}

		data, err := dbm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbm.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		msg = dbm.toModel()
		return nil
	})
	return msg, err
}

// ListRecentMessages returns up to limit messages for the
// conversation, newest first, plus the total stored message count so
// callers can derive has_more.
func (s *BboltStorage) ListRecentMessages(conversationID string, limit int) ([]models.Message, int, error) {
	var (
		messages []models.Message
		total    int
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return nil
		}
		total = chatBucket.Stats().KeyN

		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbm dbMessage
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbm.toModel())
		}
		return nil
	})
	return messages, total, err
}

// ListMessages returns all messages for the conversation in creation
// order.
func (s *BboltStorage) ListMessages(conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return nil
		}
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbm dbMessage
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbm.toModel())
			return nil
		})
	})
	return messages, err
}

// CountUnread returns the user's total unread message count and the
// per-conversation breakdown across all their conversations, most
// recently created conversation first. Conversations with nothing
// unread still get a zero entry.
func (s *BboltStorage) CountUnread(username string) (int, []models.ConversationUnread, error) {
	conversations, err := s.ListConversationsByUser(username)
	if err != nil {
		return 0, nil, err
	}

	total := 0
	breakdown := make([]models.ConversationUnread, 0, len(conversations))
	err = s.db.View(func(tx *bbolt.Tx) error {
		for _, conv := range conversations {
			count := 0
			chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conv.ID))
			if chatBucket != nil {
				err := chatBucket.ForEach(func(k, v []byte) error {
					var dbm dbMessage
					if err := dbm.UnmarshalBinary(v); err != nil {
						return err
					}
					if dbm.Recipient == username && !dbm.Read {
						count++
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			total += count
			breakdown = append(breakdown, models.ConversationUnread{ID: conv.ID, Count: count})
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return total, breakdown, nil
}

// MarkSeen marks every message in the conversation addressed to the
// user as read with status "seen" and returns how many were updated.
// Messages addressed to other users are untouched.
func (s *BboltStorage) MarkSeen(conversationID, username string) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			return nil
		}

		c := chatBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbm dbMessage
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbm.Recipient != username {
				continue
			}
			if dbm.Read && dbm.Status == string(models.MessageStatusSeen) {
				continue
			}
			dbm.Read = true
			dbm.Status = string(models.MessageStatusSeen)
			data, err := dbm.MarshalBinary()
			if err != nil {
				return err
			}
			if err := chatBucket.Put(dbm.Key(), data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// SavePushSubscription stores the raw Web Push subscription JSON for
// the user, replacing any previous one.
func (s *BboltStorage) SavePushSubscription(username string, subscription []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPushSubs).Put([]byte(username), subscription)
	})
}

// GetPushSubscription returns the stored subscription for the user.
func (s *BboltStorage) GetPushSubscription(username string) ([]byte, error) {
	var subscription []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPushSubs).Get([]byte(username))
		if data == nil {
			return models.ErrNotFound
		}
		subscription = append([]byte(nil), data...)
		return nil
	})
	return subscription, err
}

func getUser(tx *bbolt.Tx, username string) (*dbUser, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(username))
	if data == nil {
		return nil, models.ErrNotFound
	}
	var dbu dbUser
	if err := dbu.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbu, nil
}

func getConversation(tx *bbolt.Tx, id string) (*dbConversation, error) {
	data := tx.Bucket(bucketConversations).Get([]byte(id))
	if data == nil {
		return nil, models.ErrNotFound
	}
	var dbc dbConversation
	if err := dbc.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbc, nil
}

func putConversation(tx *bbolt.Tx, dbc *dbConversation) error {
	data, err := dbc.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketConversations).Put(dbc.Key(), data)
}

// personalPairKey builds the deterministic index key for the unordered
// user pair.
func personalPairKey(userA, userB string) []byte {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return []byte(strings.Join(pair, "\x00"))
}

func containsMember(members []string, username string) bool {
	for _, m := range members {
		if m == username {
			return true
		}
	}
	return false
}

func (u *dbUser) toModel() models.User {
	return models.User{
		ID:                 u.ID,
		Username:           u.Username,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Email:              u.Email,
		DisplayPhotoURL:    u.DisplayPhotoURL,
		CreatedAt:          u.CreatedAt,
		LastConversationID: u.LastConversationID,
	}
}

func (c *dbConversation) toModel() models.Conversation {
	return models.Conversation{
		ID:        c.ID,
		Name:      c.Name,
		Type:      models.ConversationType(c.Type),
		Members:   append([]string(nil), c.Members...),
		CreatedAt: c.CreatedAt,
	}
}

func (m *dbMessage) toModel() models.Message {
	return models.Message{
		ID:             m.ID,
		Seq:            m.Seq,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Recipient:      m.Recipient,
		Content:        m.Content,
		Status:         models.MessageStatus(m.Status),
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
}
