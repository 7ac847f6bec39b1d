// Package http runs the public chat API and the loopback admin API.
package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
)

// Server is a named HTTP listener that can be shut down gracefully.
type Server struct {
	name   string
	server *http.Server
	wg     sync.WaitGroup
}

func newServer(name, addr string, handler http.Handler) *Server {
	return &Server{
		name: name,
		server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
	}
}

// Start blocks serving requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	log.Printf("%s started on %s", s.name, s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
