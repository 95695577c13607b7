// Package coordinator publishes the current vision and explored polygon sets
// for one scene session. Recomputation happens behind a Transport; replies
// are applied only when they are newer than what each channel already holds.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"sightline.ai/internal/geom"
	"sightline.ai/internal/protocol"
	"sightline.ai/internal/vision"
)

var ErrDestroyed = errors.New("coordinator: destroyed")

// Transport is the message boundary to a worker. worker.Local and the
// websocket client both satisfy it.
type Transport interface {
	Post(protocol.Request) error
	Responses() <-chan protocol.ResultMsg
	Close() error
}

// Event tells subscribers that a channel's published set changed.
type Event struct {
	Channel protocol.Channel
	ID      uint64
}

type Options struct {
	Logger     *log.Logger
	SetOptions []vision.Option
}

type Coordinator struct {
	t       Transport
	log     *log.Logger
	setOpts []vision.Option

	// postMu keeps requests reaching the transport in id order without
	// holding mu while a full queue blocks.
	postMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	applied   [2]uint64
	results   [2]*vision.Set // nil while unknown
	destroyed bool
	subs      map[int]chan Event
	nextSub   int
}

func New(t Transport, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Coordinator{
		t:       t,
		log:     logger,
		setOpts: opts.SetOptions,
		subs:    make(map[int]chan Event),
	}
	c.results[protocol.Vision] = vision.Empty(c.setOpts...)
	c.results[protocol.Explored] = vision.Empty(c.setOpts...)
	return c
}

// Reset empties both published sets immediately, then tells the worker to
// drop its explored union. Replies to requests issued before the reset can
// no longer be applied.
func (c *Coordinator) Reset() error {
	c.postMu.Lock()
	defer c.postMu.Unlock()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.nextID++
	id := c.nextID
	for _, ch := range protocol.Channels {
		c.results[ch] = vision.Empty(c.setOpts...)
		c.applied[ch] = id
	}
	c.mu.Unlock()

	err := c.t.Post(protocol.NewReset(id))

	c.mu.Lock()
	if !c.destroyed {
		c.notifyLocked(protocol.Vision, id)
		c.notifyLocked(protocol.Explored, id)
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("post reset %d: %w", id, err)
	}
	return nil
}

// UpdateVision marks vision unknown and asks the worker to recompute it
// from fov. When explored is true, los is folded into the explored union.
func (c *Coordinator) UpdateVision(fov, los []geom.Path, explored bool) error {
	if err := geom.ValidatePaths(fov); err != nil {
		return fmt.Errorf("fov: %w", err)
	}
	if err := geom.ValidatePaths(los); err != nil {
		return fmt.Errorf("los: %w", err)
	}

	c.postMu.Lock()
	defer c.postMu.Unlock()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.nextID++
	id := c.nextID
	c.results[protocol.Vision] = nil
	c.mu.Unlock()

	if err := c.t.Post(protocol.NewUpdate(id, fov, los, explored)); err != nil {
		return fmt.Errorf("post update %d: %w", id, err)
	}
	return nil
}

// RestoreExplored starts the session over from a stored explored set: the
// set is published right away and replayed to the worker as line of sight.
func (c *Coordinator) RestoreExplored(set *vision.Set) error {
	if err := c.Reset(); err != nil {
		return err
	}
	if set == nil || set.IsEmpty() {
		return nil
	}
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.results[protocol.Explored] = set
	c.notifyLocked(protocol.Explored, c.applied[protocol.Explored])
	c.mu.Unlock()
	return c.UpdateVision(nil, set.Paths(), true)
}

// TestVisibility answers against the current vision set. known is false
// while no vision result is available; that is not the same as invisible.
func (c *Coordinator) TestVisibility(probe vision.Probe, tolerance float64) (visible, known bool) {
	set, ok := c.Vision()
	if !ok {
		return false, false
	}
	return set.TestVisibility(probe, tolerance), true
}

func (c *Coordinator) Vision() (*vision.Set, bool)   { return c.result(protocol.Vision) }
func (c *Coordinator) Explored() (*vision.Set, bool) { return c.result(protocol.Explored) }

func (c *Coordinator) result(ch protocol.Channel) (*vision.Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.results[ch]
	return s, s != nil
}

// AppliedID is the id of the last reply applied to ch.
func (c *Coordinator) AppliedID(ch protocol.Channel) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied[ch]
}

// LastID is the id of the most recent request.
func (c *Coordinator) LastID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID
}

// OnResponse applies a worker reply when it is newer than the channel's
// last applied reply and carries paths. It reports whether it applied.
func (c *Coordinator) OnResponse(msg protocol.ResultMsg) bool {
	ch, ok := protocol.ChannelOf(msg.Type)
	if !ok {
		c.log.Printf("ignoring reply id=%d with type %q", msg.ID, msg.Type)
		return false
	}
	if msg.Paths == nil {
		return false
	}
	set := vision.NewSet(msg.Paths, c.setOpts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return false
	}
	if msg.ID <= c.applied[ch] {
		c.log.Printf("stale %s reply id=%d (applied %d)", ch, msg.ID, c.applied[ch])
		return false
	}
	c.applied[ch] = msg.ID
	c.results[ch] = set
	c.notifyLocked(ch, msg.ID)
	return true
}

// Run applies replies from the transport until ctx ends, the coordinator is
// destroyed, or the transport stops.
func (c *Coordinator) Run(ctx context.Context) error {
	resps := c.t.Responses()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-resps:
			if !ok {
				return nil
			}
			c.OnResponse(m)
		}
	}
}

// Subscribe returns a channel of change events. A slow subscriber loses the
// oldest pending event rather than blocking publication. The channel is
// closed by cancel or Destroy.
func (c *Coordinator) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Coordinator) notifyLocked(ch protocol.Channel, id uint64) {
	ev := Event{Channel: ch, ID: id}
	for _, sub := range c.subs {
		sendLatest(sub, ev)
	}
}

func sendLatest(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Destroy closes the transport and makes the coordinator permanently inert.
func (c *Coordinator) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub)
	}
	c.mu.Unlock()
	return c.t.Close()
}
