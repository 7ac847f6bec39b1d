package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"jammy/internal/models"
)

// errSessionClosed ends a connection whose session the hub has closed, either
// because it was superseded or because the hub is shutting down.
var errSessionClosed = errors.New("session closed by hub")

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
	Ping() error
}

type messageHub interface {
	Join(bound *models.UserIdentity) (models.ConnectionID, <-chan models.ServerEvent, error)
	Leave(conn models.ConnectionID)
	Dispatch(conn models.ConnectionID, event models.ClientEvent)
}

type Connection struct {
	ws           wsConnection
	hub          messageHub
	id           models.ConnectionID
	pingInterval time.Duration
	fromClient   chan models.ClientEvent
	fromServer   <-chan models.ServerEvent
	errorCh      chan error
}

// NewConnection attaches ws to the hub. bound is the token identity of the
// connection, or nil when the client identifies itself in the handshake.
func NewConnection(
	hub messageHub,
	ws wsConnection,
	bound *models.UserIdentity,
	pingInterval time.Duration,
) (*Connection, error) {
	id, fromServer, err := hub.Join(bound)
	if err != nil {
		return nil, err
	}
	return &Connection{
		ws:           ws,
		hub:          hub,
		id:           id,
		pingInterval: pingInterval,
		fromClient:   make(chan models.ClientEvent),
		fromServer:   fromServer,
		errorCh:      make(chan error, 2),
	}, nil
}

func (c *Connection) ID() models.ConnectionID {
	return c.id
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.id)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errSessionClosed) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var event models.ClientEvent
		if err := c.ws.ReadJSON(&event); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				slog.Debug("dropping malformed frame", "conn_id", c.id, "error", err)
				continue
			}
			return err
		}
		select {
		case c.fromClient <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case event := <-c.fromClient:
			c.hub.Dispatch(c.id, event)
		case event, ok := <-c.fromServer:
			if !ok {
				return errSessionClosed
			}
			if err := c.ws.WriteJSON(event); err != nil {
				return err
			}
		case <-ping:
			if err := c.ws.Ping(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
