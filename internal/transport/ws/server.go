// Package ws carries the worker protocol over websockets: Server runs one
// worker engine per connection and Client is a coordinator transport.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sightline.ai/internal/protocol"
	"sightline.ai/internal/worker"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait / 2
)

type Server struct {
	log       *log.Logger
	queueSize int

	upgrader websocket.Upgrader
}

func NewServer(logger *log.Logger, queueSize int) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if queueSize <= 0 {
		queueSize = worker.DefaultQueueSize
	}
	return &Server{
		log:       logger,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 2*s.queueSize)
		writerDone := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(writerDone)
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		engine := worker.NewEngine()
		remote := r.RemoteAddr
		s.log.Printf("worker connection from %s", remote)

		// Reader loop. Requests are handled in arrival order.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))

			for _, reply := range s.handle(ctx, engine, msg) {
				select {
				case out <- reply:
				case <-ctx.Done():
				}
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-writerDone
		s.log.Printf("worker connection from %s closed", remote)
	}
}

func (s *Server) handle(ctx context.Context, engine *worker.Engine, msg []byte) [][]byte {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorReply(0, protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		return errorReply(base.ID, protocol.ErrProtoVersion, "unsupported protocol_version "+base.ProtocolVersion)
	}
	if err := protocol.ValidateRequest(msg); err != nil {
		s.log.Printf("request id=%d rejected by schema: %v", base.ID, err)
		return errorReply(base.ID, protocol.ErrProtoBadRequest, err.Error())
	}
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return errorReply(base.ID, protocol.ErrProtoBadRequest, err.Error())
	}

	results, err := engine.Handle(ctx, req)
	if err != nil {
		var re *worker.RequestError
		if errors.As(err, &re) {
			return errorReply(req.ID, re.Code, re.Msg)
		}
		return errorReply(req.ID, protocol.ErrInternal, err.Error())
	}
	out := make([][]byte, 0, len(results))
	for _, m := range results {
		b, err := json.Marshal(m)
		if err != nil {
			return errorReply(req.ID, protocol.ErrInternal, err.Error())
		}
		out = append(out, b)
	}
	return out
}

func errorReply(id uint64, code, message string) [][]byte {
	b, _ := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Code:            code,
		Message:         message,
	})
	return [][]byte{b}
}
