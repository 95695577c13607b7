package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"sightline.ai/internal/geom"
	"sightline.ai/internal/geom/clip"
	"sightline.ai/internal/protocol"
)

// visbot walks an observer around and drives a remote worker with its field
// of view, logging reply latency and explored area.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8090/v1/worker", "worker ws url")
		every  = flag.Duration("every", 200*time.Millisecond, "update interval")
		radius = flag.Float64("radius", 12, "view radius")
		sides  = flag.Int("sides", 24, "view polygon sides")
		seed   = flag.Int64("seed", 0, "random seed (0: time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[visbot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(*seed))

	sent := map[uint64]time.Time{}
	replies := make(chan []byte, 16)
	go func() {
		defer close(replies)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			replies <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(*every)
	defer tick.Stop()

	var (
		id  uint64
		pos geom.Vec
	)
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			pos.X += float64(r.Intn(11) - 5)
			pos.Y += float64(r.Intn(11) - 5)
			view, err := geom.Disc(pos, *radius, *sides)
			if err != nil {
				logger.Printf("view: %v", err)
				continue
			}
			id++
			req := protocol.NewUpdate(id, []geom.Path{view}, []geom.Path{view}, true)
			if err := conn.WriteJSON(req); err != nil {
				logger.Printf("send: %v", err)
				return
			}
			sent[id] = time.Now()
		case msg, ok := <-replies:
			if !ok {
				logger.Printf("worker closed the connection")
				return
			}
			handleReply(logger, msg, sent)
		}
	}
}

func handleReply(logger *log.Logger, msg []byte, sent map[uint64]time.Time) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeError:
		var em protocol.ErrorMsg
		_ = json.Unmarshal(msg, &em)
		logger.Printf("id=%d rejected: %s %s", em.ID, em.Code, em.Message)
		delete(sent, em.ID)
	case protocol.TypeExplored:
		var res protocol.ResultMsg
		if err := json.Unmarshal(msg, &res); err != nil {
			return
		}
		if at, ok := sent[res.ID]; ok {
			logger.Printf("id=%d took=%s explored_polygons=%d explored_area=%.1f",
				res.ID, time.Since(at), len(res.Paths), clip.Area(res.Paths))
			delete(sent, res.ID)
		}
	}
}
