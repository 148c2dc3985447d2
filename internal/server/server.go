// Package server serves one shared settings document over HTTP.
//
// GET and PUT on /v1/snapshot read and conditionally replace the document;
// /v1/events is a websocket that announces every accepted change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
)

// maxDocumentSize bounds accepted PUT bodies.
const maxDocumentSize = 64 << 20

// Store is the document storage behind the server.
type Store interface {
	Current(ctx context.Context) ([]byte, string, error)
	PushDocument(ctx context.Context, doc remote.Document, opts remote.PushOptions) (remote.PushResult, error)
}

// Server is the HTTP handler.
type Server struct {
	store    Store
	log      logger.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan remote.Event
}

// New creates a server over store.
func New(store Store, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		store:   store,
		log:     log,
		router:  mux.NewRouter(),
		clients: make(map[*websocket.Conn]chan remote.Event),
	}

	s.router.HandleFunc(remote.SnapshotPath, s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc(remote.SnapshotPath, s.handlePut).Methods(http.MethodPut)
	s.router.HandleFunc(remote.EventsPath, s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	data, version, err := s.store.Current(r.Context())
	if err != nil {
		s.log.Error("failed to read snapshot", err)
		http.Error(w, "failed to read snapshot", http.StatusInternalServerError)
		return
	}
	if version == "" {
		http.Error(w, "no snapshot", http.StatusNotFound)
		return
	}

	w.Header().Set("ETag", remote.ETag(version))
	if matchesETag(r.Header.Get("If-None-Match"), version) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	doc, err := remote.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := remote.PushOptions{Force: true}
	if m := r.Header.Get("If-Match"); m != "" {
		opts = remote.PushOptions{ExpectedVersion: remote.ParseETag(m)}
	} else if r.Header.Get("If-None-Match") == "*" {
		opts = remote.PushOptions{}
	}

	res, err := s.store.PushDocument(r.Context(), doc, opts)
	switch {
	case errors.Is(err, remote.ErrRejected):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	case err != nil:
		s.log.Error("failed to store snapshot", err)
		http.Error(w, "failed to store snapshot", http.StatusInternalServerError)
		return
	}

	log := s.log.WithFields(map[string]any{
		"version":      res.Version,
		"installation": doc.InstallationID,
	})
	if res.Unchanged {
		log.Debug("push unchanged")
	} else {
		log.Info("accepted push")
		s.broadcast(remote.Event{Type: remote.EventVersion, Version: res.Version})
	}

	w.Header().Set("ETag", remote.ETag(res.Version))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(remote.PushResponse{Version: res.Version, Unchanged: res.Unchanged})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", err)
		return
	}

	clientChan := make(chan remote.Event, 16)
	s.mu.Lock()
	s.clients[conn] = clientChan
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		close(clientChan)
		_ = conn.Close()
	}()

	go func() {
		for ev := range clientChan {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()

	// Reads only detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(ev remote.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it will catch up on its next poll.
		}
	}
}

// Subscribers returns the number of connected event clients.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func matchesETag(header, version string) bool {
	if header == "" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		if t := strings.TrimSpace(tag); t == "*" || remote.ParseETag(t) == version {
			return true
		}
	}
	return false
}
