package storage

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"jammy/internal/auth"
	"jammy/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers    = []byte("users")
	bucketRooms    = []byte("rooms")
	bucketMessages = []byte("messages")
	// Messages sent outside of any room. Kept apart from the per-room buckets
	// so no room name can alias the global stream.
	bucketGlobalMessages = []byte("global_messages")
	bucketFiles          = []byte("files")
)

var ErrRoomExists = errors.New("room already exists")

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketRooms, bucketMessages, bucketGlobalMessages, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:                  credentials.ID,
			Username:            credentials.Username,
			PasswordHash:        credentials.PasswordHash,
			Role:                string(credentials.Role),
			CreatedAt:           credentials.CreatedAt.Unix(),
			FailedLoginAttempts: credentials.FailedLoginAttempts,
			LockedUntil:         credentials.LockedUntil,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:        dbUser.ID,
					Username:  dbUser.Username,
					Role:      models.Role(dbUser.Role),
					CreatedAt: time.Unix(dbUser.CreatedAt, 0).UTC(),
				},
				PasswordHash:        dbUser.PasswordHash,
				FailedLoginAttempts: dbUser.FailedLoginAttempts,
				LockedUntil:         dbUser.LockedUntil,
			})
			return nil
		})
	})
	return credentials, err
}

// CreateRoom stores a new room. ErrRoomExists is returned for duplicates.
func (s *BboltStorage) CreateRoom(room models.Room) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		dbRoom := &DBRoom{
			Name:      room.Name,
			CreatedBy: room.CreatedBy,
			CreatedAt: room.CreatedAt.UnixMilli(),
		}
		if b.Get(dbRoom.Key()) != nil {
			return ErrRoomExists
		}
		data, err := dbRoom.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbRoom.Key(), data)
	})
}

// ListRooms returns all rooms ordered by creation time.
func (s *BboltStorage) ListRooms() ([]models.Room, error) {
	rooms := []models.Room{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		return b.ForEach(func(k, v []byte) error {
			var dbRoom DBRoom
			if err := dbRoom.UnmarshalBinary(v); err != nil {
				return err
			}
			rooms = append(rooms, models.Room{
				Name:      dbRoom.Name,
				CreatedBy: dbRoom.CreatedBy,
				CreatedAt: time.UnixMilli(dbRoom.CreatedAt).UTC(),
			})
			return nil
		})
	})
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms, err
}

// CreateMessage assigns the next sequence number of the message's room as its
// ID and stores it.
func (s *BboltStorage) CreateMessage(message models.Message) (models.Message, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		roomBucket, err := createMessageBucket(tx, message.Room)
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		seq, err := roomBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message id: %w", err)
		}

		dbMessage := toDBMessage(message)
		dbMessage.Seq = seq
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := roomBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		message = fromDBMessage(dbMessage)
		return nil
	})
	return message, err
}

// GetMessage returns a message of room by ID or models.ErrNotFound.
func (s *BboltStorage) GetMessage(room, id string) (models.Message, error) {
	var message models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMessage, err := getMessage(tx, room, id)
		if err != nil {
			return err
		}
		message = fromDBMessage(dbMessage)
		return nil
	})
	return message, err
}

// UpdateMessage replaces the mutable fields (content, html, editedAt) of a
// stored message and returns the stored record.
func (s *BboltStorage) UpdateMessage(message models.Message) (models.Message, error) {
	var updated models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMessage, err := getMessage(tx, message.Room, message.ID)
		if err != nil {
			return err
		}

		dbMessage.Content = message.Content
		dbMessage.HTML = message.HTML
		if !message.EditedAt.IsZero() {
			dbMessage.EditedAt = message.EditedAt.UnixMilli()
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := messageBucket(tx, message.Room).Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		updated = fromDBMessage(dbMessage)
		return nil
	})
	return updated, err
}

// DeleteMessage removes a message permanently.
func (s *BboltStorage) DeleteMessage(room, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbMessage, err := getMessage(tx, room, id)
		if err != nil {
			return err
		}
		return messageBucket(tx, room).Delete(dbMessage.Key())
	})
}

// ListMessages returns one page of room history. Page 1 holds the newest
// limit messages; each page is returned oldest first.
func (s *BboltStorage) ListMessages(room string, page, limit int) ([]models.Message, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		return []models.Message{}, nil
	}
	skip := (page - 1) * limit

	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := messageBucket(tx, room)
		if roomBucket == nil {
			return nil
		}

		c := roomBucket.Cursor()
		i := 0
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			if i < skip {
				i++
				continue
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, fromDBMessage(dbMsg))
		}
		return nil
	})

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, err
}

func getMessage(tx *bbolt.Tx, room, id string) (DBMessage, error) {
	var dbMessage DBMessage
	seq, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return dbMessage, models.ErrNotFound
	}
	roomBucket := messageBucket(tx, room)
	if roomBucket == nil {
		return dbMessage, models.ErrNotFound
	}
	data := roomBucket.Get(seqKey(seq))
	if data == nil {
		return dbMessage, models.ErrNotFound
	}
	if err := dbMessage.UnmarshalBinary(data); err != nil {
		return dbMessage, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return dbMessage, nil
}

// messageBucket returns the bucket holding the messages of room, or nil when
// nothing was ever stored there.
func messageBucket(tx *bbolt.Tx, room string) *bbolt.Bucket {
	if room == "" {
		return tx.Bucket(bucketGlobalMessages)
	}
	return tx.Bucket(bucketMessages).Bucket([]byte(room))
}

func createMessageBucket(tx *bbolt.Tx, room string) (*bbolt.Bucket, error) {
	if room == "" {
		return tx.Bucket(bucketGlobalMessages), nil
	}
	return tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(room))
}

func toDBMessage(m models.Message) DBMessage {
	dbMessage := DBMessage{
		Room:      m.Room,
		Username:  m.Username,
		UserID:    m.UserID,
		Content:   m.Content,
		HTML:      m.HTML,
		FileURL:   m.FileURL,
		Timestamp: m.Timestamp.UnixMilli(),
	}
	if !m.EditedAt.IsZero() {
		dbMessage.EditedAt = m.EditedAt.UnixMilli()
	}
	return dbMessage
}

func fromDBMessage(m DBMessage) models.Message {
	msg := models.Message{
		ID:        strconv.FormatUint(m.Seq, 10),
		Username:  m.Username,
		Content:   m.Content,
		HTML:      m.HTML,
		Room:      m.Room,
		FileURL:   m.FileURL,
		UserID:    m.UserID,
		Timestamp: time.UnixMilli(m.Timestamp).UTC(),
	}
	if m.EditedAt != 0 {
		msg.EditedAt = time.UnixMilli(m.EditedAt).UTC()
	}
	return msg
}
