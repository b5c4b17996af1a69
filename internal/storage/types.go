package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type dbUser struct {
	Username           string `msgpack:"username"`
	ID                 string `msgpack:"id"`
	FirstName          string `msgpack:"firstName"`
	LastName           string `msgpack:"lastName"`
	Email              string `msgpack:"email"`
	DisplayPhotoURL    string `msgpack:"displayPhotoUrl"`
	PasswordHash       string `msgpack:"passwordHash"`
	LastConversationID string `msgpack:"lastConversationId"`
	CreatedAt          int64  `msgpack:"createdAt"`
}

func (u *dbUser) Key() []byte {
	return []byte(u.Username)
}

func (u *dbUser) MarshalBinary() (data []byte, err error) {
	type alias dbUser
	return msgpack.Marshal((*alias)(u))
}

func (u *dbUser) UnmarshalBinary(data []byte) error {
	type alias dbUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type dbConversation struct {
	ID        string   `msgpack:"id"`
	Name      string   `msgpack:"name"`
	Type      string   `msgpack:"type"`
	Members   []string `msgpack:"members"`
	CreatedAt int64    `msgpack:"createdAt"`
}

func (c *dbConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *dbConversation) MarshalBinary() (data []byte, err error) {
	type alias dbConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *dbConversation) UnmarshalBinary(data []byte) error {
	type alias dbConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type dbMessage struct {
	ID             string `msgpack:"id"`
	Seq            uint64 `msgpack:"seq"`
	ConversationID string `msgpack:"conversationId"`
	Sender         string `msgpack:"sender"`
	Recipient      string `msgpack:"recipient"`
	Content        string `msgpack:"content"`
	Status         string `msgpack:"status"`
	Read           bool   `msgpack:"read"`
	CreatedAt      int64  `msgpack:"createdAt"`
}

// Key is the message's insertion sequence, big-endian so byte order
// matches creation order under the bbolt cursor.
func (m *dbMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *dbMessage) MarshalBinary() (data []byte, err error) {
	type alias dbMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *dbMessage) UnmarshalBinary(data []byte) error {
	type alias dbMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
