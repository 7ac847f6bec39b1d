// Package chat validates, authorizes and persists chat messages before the
// hub publishes them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"jammy/internal/content"
	"jammy/internal/models"

	"github.com/c-pro/geche"
)

const (
	// GlobalMaxContentLength applies when all users share one chat.
	GlobalMaxContentLength = 1000
	// RoomMaxContentLength applies in room mode.
	RoomMaxContentLength = 300

	DefaultIdempotencyTTL = 10 * time.Minute
	maxFileURLLength      = 2048
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// InputError carries a message that is safe to show to the sender.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return e.Reason
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(format string, args ...any) error {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// MessageStore is the persistence collaborator.
type MessageStore interface {
	CreateMessage(message models.Message) (models.Message, error)
	GetMessage(room, id string) (models.Message, error)
	UpdateMessage(message models.Message) (models.Message, error)
	DeleteMessage(room, id string) error
}

type Config struct {
	MaxContentLength int
	IdempotencyTTL   time.Duration
}

type Pipeline struct {
	cfg   Config
	store MessageStore
	// sent maps userID/clientMessageID to the stored record so retries are
	// answered without a second write.
	sent geche.Geche[string, models.Message]
	now  func() time.Time
}

func NewPipeline(ctx context.Context, cfg Config, store MessageStore) *Pipeline {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = RoomMaxContentLength
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	return &Pipeline{
		cfg:   cfg,
		store: store,
		sent:  geche.NewMapTTLCache[string, models.Message](ctx, cfg.IdempotencyTTL, time.Minute),
		now:   time.Now,
	}
}

func (p *Pipeline) MaxContentLength() int {
	return p.cfg.MaxContentLength
}

// ValidateSend builds the record to persist for a send_message request.
// Author and room come from the session, not from the payload.
func (p *Pipeline) ValidateSend(author models.UserIdentity, room string, req models.SendMessagePayload) (models.Message, error) {
	if author.Username == "" {
		return models.Message{}, invalid("Username is required")
	}

	text := strings.TrimSpace(req.Content)
	fileURL := strings.TrimSpace(req.FileURL)
	if text == "" && fileURL == "" {
		return models.Message{}, invalid("Message content is required")
	}
	if err := p.checkLength(text); err != nil {
		return models.Message{}, err
	}
	if fileURL != "" {
		if err := validateFileURL(fileURL); err != nil {
			return models.Message{}, err
		}
	}

	html, err := renderContent(text)
	if err != nil {
		return models.Message{}, err
	}

	return models.Message{
		Username:  author.Username,
		UserID:    author.UserID,
		Room:      room,
		Content:   text,
		HTML:      html,
		FileURL:   fileURL,
		Timestamp: p.now().UTC(),
	}, nil
}

// Send persists msg. A non-empty clientMessageID already seen for the same
// user returns the stored record with duplicate set and writes nothing.
func (p *Pipeline) Send(msg models.Message, clientMessageID string) (stored models.Message, duplicate bool, err error) {
	key := ""
	if clientMessageID != "" {
		key = msg.UserID + "/" + clientMessageID
		if prev, err := p.sent.Get(key); err == nil {
			return prev, true, nil
		}
	}

	stored, err = p.store.CreateMessage(msg)
	if err != nil {
		return models.Message{}, false, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	if key != "" {
		p.sent.Set(key, stored)
	}
	return stored, false, nil
}

// ValidateEdit checks an edit request before any storage access.
func (p *Pipeline) ValidateEdit(req models.EditMessagePayload) (string, error) {
	if strings.TrimSpace(req.ID) == "" {
		return "", invalid("Message id is required")
	}
	text := strings.TrimSpace(req.Content)
	if text == "" {
		return "", invalid("Message content is required")
	}
	if err := p.checkLength(text); err != nil {
		return "", err
	}
	return text, nil
}

// Edit replaces the content of message id in room on behalf of actor.
func (p *Pipeline) Edit(actor models.UserIdentity, room, id, text string) (models.Message, error) {
	msg, err := p.load(room, id)
	if err != nil {
		return models.Message{}, err
	}
	if !CanModify(actor, msg) {
		return models.Message{}, ErrUnauthorized
	}

	html, err := renderContent(text)
	if err != nil {
		return models.Message{}, err
	}
	msg.Content = text
	msg.HTML = html
	msg.EditedAt = p.now().UTC()

	updated, err := p.store.UpdateMessage(msg)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return updated, nil
}

// Delete removes message id in room on behalf of actor.
func (p *Pipeline) Delete(actor models.UserIdentity, room, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("Message id is required")
	}
	msg, err := p.load(room, id)
	if err != nil {
		return err
	}
	if !CanModify(actor, msg) {
		return ErrUnauthorized
	}
	if err := p.store.DeleteMessage(room, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return nil
}

// CanModify reports whether actor may edit or delete msg: its author, or an
// identity holding the admin role.
func CanModify(actor models.UserIdentity, msg models.Message) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.Username != "" && actor.Username == msg.Username
}

func (p *Pipeline) load(room, id string) (models.Message, error) {
	msg, err := p.store.GetMessage(room, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
	}
	return msg, nil
}

func (p *Pipeline) checkLength(text string) error {
	if utf8.RuneCountInString(text) > p.cfg.MaxContentLength {
		return invalid("Message cannot exceed %d characters", p.cfg.MaxContentLength)
	}
	return nil
}

func renderContent(text string) (string, error) {
	if text == "" {
		return "", nil
	}
	html, err := content.Render(text)
	if err != nil {
		return "", invalid("Message could not be rendered")
	}
	return html, nil
}

func validateFileURL(raw string) error {
	if len(raw) > maxFileURLLength {
		return invalid("File URL is too long")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("File URL is invalid")
	}
	switch {
	case (u.Scheme == "http" || u.Scheme == "https") && u.Host != "":
		return nil
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/uploads/"):
		return nil
	}
	return invalid("File URL is invalid")
}
