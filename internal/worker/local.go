package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"sightline.ai/internal/protocol"
)

var ErrClosed = errors.New("worker: closed")

const DefaultQueueSize = 64

type LocalOptions struct {
	QueueSize int
	Logger    *log.Logger
}

// Local runs an Engine on its own goroutine. Requests and results cross the
// boundary only as messages.
type Local struct {
	engine *Engine
	log    *log.Logger

	reqs  chan protocol.Request
	resps chan protocol.ResultMsg

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func StartLocal(opts LocalOptions) *Local {
	q := opts.QueueSize
	if q <= 0 {
		q = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	l := &Local{
		engine: NewEngine(),
		log:    logger,
		reqs:   make(chan protocol.Request, q),
		// Two results per request.
		resps: make(chan protocol.ResultMsg, 2*q),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.resps)
		l.loop()
	}()
	return l
}

// Post queues a request. It blocks only while the queue is full.
func (l *Local) Post(req protocol.Request) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.reqs <- req:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Responses is closed once the worker has stopped.
func (l *Local) Responses() <-chan protocol.ResultMsg { return l.resps }

// Close stops the worker and waits for its goroutine. Requests still queued
// are dropped without replies.
func (l *Local) Close() error {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

func (l *Local) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-l.done:
			return
		case req := <-l.reqs:
			start := time.Now()
			out, err := l.engine.Handle(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Printf("request id=%d type=%s rejected: %v", req.ID, req.Type, err)
				continue
			}
			l.log.Printf("request id=%d type=%s fov=%d los=%d took=%s", req.ID, req.Type, len(req.FOV), len(req.LOS), time.Since(start))
			for _, m := range out {
				select {
				case l.resps <- m:
				case <-l.done:
					return
				}
			}
		}
	}
}
