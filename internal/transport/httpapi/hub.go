// Package httpapi exposes scene sessions over HTTP. Each session owns one
// coordinator and its worker transport.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sightline.ai/internal/coordinator"
	"sightline.ai/internal/persistence/fogstore"
	persistlog "sightline.ai/internal/persistence/log"
	"sightline.ai/internal/protocol"
	"sightline.ai/internal/vision"
)

var ErrNoSession = errors.New("httpapi: no such session")

// TransportFactory opens a fresh worker transport for a new session.
type TransportFactory func(ctx context.Context) (coordinator.Transport, error)

type FogStore interface {
	Save(fogstore.Record) error
	Load(ctx context.Context, sceneID string) (fogstore.Record, bool, error)
}

type EventSink interface {
	WriteEvent(persistlog.EventEntry) error
}

type HubOptions struct {
	NewTransport TransportFactory
	// Store and Events are optional.
	Store  FogStore
	Events EventSink

	Logger           *log.Logger
	SetOptions       []vision.Option
	DefaultTolerance float64
}

type Session struct {
	ID      string
	Scene   string
	Created time.Time

	coord  *coordinator.Coordinator
	cancel context.CancelFunc
}

func (s *Session) Coordinator() *coordinator.Coordinator { return s.coord }

type SessionInfo struct {
	ID      string `json:"session_id"`
	Scene   string `json:"scene"`
	Created string `json:"created"`
	LastID  uint64 `json:"last_id"`
}

type Hub struct {
	opts HubOptions
	log  *log.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{opts: opts, log: logger, sessions: map[string]*Session{}}
}

// Create opens a session for scene. When a store is configured and holds
// explored fog for the scene, the session starts from it.
func (h *Hub) Create(ctx context.Context, scene string) (*Session, bool, error) {
	if scene == "" {
		return nil, false, fmt.Errorf("empty scene id")
	}
	tr, err := h.opts.NewTransport(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("open worker: %w", err)
	}
	sess := &Session{
		ID:      uuid.NewString(),
		Scene:   scene,
		Created: time.Now().UTC(),
		coord:   coordinator.New(tr, coordinator.Options{Logger: h.log, SetOptions: h.opts.SetOptions}),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	events, _ := sess.coord.Subscribe(16)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		if err := sess.coord.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Printf("session %s: run: %v", sess.ID, err)
		}
	}()
	go func() {
		defer h.wg.Done()
		h.publish(sess, events)
	}()

	restored, err := h.restore(ctx, sess)
	if err != nil {
		h.log.Printf("session %s: restore %s: %v", sess.ID, scene, err)
	}

	h.mu.Lock()
	h.sessions[sess.ID] = sess
	h.mu.Unlock()
	h.log.Printf("session %s opened for scene %s (restored=%v)", sess.ID, scene, restored)
	return sess, restored, nil
}

func (h *Hub) restore(ctx context.Context, sess *Session) (bool, error) {
	if h.opts.Store == nil {
		return false, nil
	}
	rec, ok, err := h.opts.Store.Load(ctx, sess.Scene)
	if err != nil || !ok || rec.Explored == "" {
		return false, err
	}
	set, err := vision.ParseSet(rec.Explored, h.opts.SetOptions...)
	if err != nil {
		return false, err
	}
	if err := sess.coord.RestoreExplored(set); err != nil {
		return false, err
	}
	return true, nil
}

// publish persists explored changes and logs every applied change until the
// coordinator is destroyed.
func (h *Hub) publish(sess *Session, events <-chan coordinator.Event) {
	for ev := range events {
		var (
			set *vision.Set
			ok  bool
		)
		if ev.Channel == protocol.Explored {
			set, ok = sess.coord.Explored()
		} else {
			set, ok = sess.coord.Vision()
		}
		if !ok {
			continue
		}
		if ev.Channel == protocol.Explored && h.opts.Store != nil {
			err := h.opts.Store.Save(fogstore.Record{
				SceneID:   sess.Scene,
				SessionID: sess.ID,
				RequestID: ev.ID,
				Explored:  set.String(),
			})
			if err != nil {
				h.log.Printf("session %s: save explored: %v", sess.ID, err)
			}
		}
		if h.opts.Events != nil {
			err := h.opts.Events.WriteEvent(persistlog.EventEntry{
				Scene:    sess.Scene,
				Session:  sess.ID,
				Channel:  ev.Channel.String(),
				ID:       ev.ID,
				Polygons: set.Len(),
				Area:     set.Area(),
			})
			if err != nil {
				h.log.Printf("session %s: event log: %v", sess.ID, err)
			}
		}
	}
}

func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Hub) List() []SessionInfo {
	h.mu.RLock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, SessionInfo{
			ID:      s.ID,
			Scene:   s.Scene,
			Created: s.Created.Format(time.RFC3339Nano),
			LastID:  s.coord.LastID(),
		})
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created != out[j].Created {
			return out[i].Created < out[j].Created
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete destroys the session's coordinator and forgets it.
func (h *Hub) Delete(id string) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	err := s.coord.Destroy()
	s.cancel()
	h.log.Printf("session %s closed", id)
	return err
}

// Close destroys every session and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := h.Delete(id); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	h.wg.Wait()
	return errors.Join(errs...)
}
