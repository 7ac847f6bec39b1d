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

type DBUser struct {
	ID                  string `msgpack:"id"`
	Username            string `msgpack:"username"`
	PasswordHash        string `msgpack:"passwordHash"`
	Role                string `msgpack:"role"`
	CreatedAt           int64  `msgpack:"createdAt"`
	FailedLoginAttempts int    `msgpack:"failedLoginAttempts"`
	LockedUntil         int64  `msgpack:"lockedUntil"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.Username)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBRoom struct {
	Name      string `msgpack:"name"`
	CreatedBy string `msgpack:"createdBy"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.Name)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

// DBMessage timestamps are unix milliseconds.
type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	Room      string `msgpack:"room"`
	Username  string `msgpack:"username"`
	UserID    string `msgpack:"userId"`
	Content   string `msgpack:"content"`
	HTML      string `msgpack:"html"`
	FileURL   string `msgpack:"fileUrl"`
	Timestamp int64  `msgpack:"timestamp"`
	EditedAt  int64  `msgpack:"editedAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
