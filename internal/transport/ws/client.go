package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sightline.ai/internal/protocol"
	"sightline.ai/internal/worker"
)

type ClientOptions struct {
	Logger    *log.Logger
	QueueSize int
}

// Client sends requests to a remote worker and surfaces its replies. It
// satisfies coordinator.Transport.
type Client struct {
	conn *websocket.Conn
	log  *log.Logger

	out   chan []byte
	resps chan protocol.ResultMsg

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	q := opts.QueueSize
	if q <= 0 {
		q = worker.DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		conn:  conn,
		log:   logger,
		out:   make(chan []byte, q),
		resps: make(chan protocol.ResultMsg, 2*q),
		done:  make(chan struct{}),
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer c.wg.Done()
		defer close(c.resps)
		c.readLoop()
	}()
	return c, nil
}

func (c *Client) Post(req protocol.Request) error {
	if req.ProtocolVersion == "" {
		req.ProtocolVersion = protocol.Version
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return worker.ErrClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return worker.ErrClosed
	}
}

// Responses is closed when the connection ends.
func (c *Client) Responses() <-chan protocol.ResultMsg { return c.resps }

func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Printf("worker write: %v", err)
				c.shutdown()
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Printf("worker read: %v", err)
			}
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			c.log.Printf("worker sent bad json: %v", err)
			continue
		}
		if base.Type == protocol.TypeError {
			var em protocol.ErrorMsg
			_ = json.Unmarshal(msg, &em)
			c.log.Printf("worker rejected id=%d: %s %s", em.ID, em.Code, em.Message)
			continue
		}
		if err := protocol.ValidateResult(msg); err != nil {
			c.log.Printf("worker reply id=%d failed schema: %v", base.ID, err)
			continue
		}
		var m protocol.ResultMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			c.log.Printf("worker reply id=%d: %v", base.ID, err)
			continue
		}
		select {
		case c.resps <- m:
		case <-c.done:
			return
		}
	}
}
