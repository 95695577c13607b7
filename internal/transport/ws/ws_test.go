package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sightline.ai/internal/coordinator"
	"sightline.ai/internal/geom"
	"sightline.ai/internal/geom/clip"
	"sightline.ai/internal/protocol"
	"sightline.ai/internal/vision"
	"sightline.ai/internal/worker"
)

func startServer(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(NewServer(nil, 8).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func rect(t *testing.T, x0, y0, x1, y1 float64) geom.Path {
	t.Helper()
	p, err := geom.Rect(x0, y0, x1, y1)
	if err != nil {
		t.Fatalf("Rect: %v", err)
	}
	return p
}

func recv(t *testing.T, ch <-chan protocol.ResultMsg) protocol.ResultMsg {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatalf("responses closed")
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")
	}
	return protocol.ResultMsg{}
}

func TestClient_RoundTrip(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()
	c, err := Dial(ctx, url, ClientOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	sq := rect(t, 0, 0, 10, 10)
	if err := c.Post(protocol.NewUpdate(1, []geom.Path{sq, rect(t, 5, 0, 15, 10)}, []geom.Path{sq}, true)); err != nil {
		t.Fatalf("Post: %v", err)
	}
	v := recv(t, c.Responses())
	ex := recv(t, c.Responses())
	if v.Type != protocol.TypeVision || v.ID != 1 {
		t.Fatalf("vision: %+v", v)
	}
	if got := clip.Area(v.Paths); got != 150 {
		t.Fatalf("vision area: %v", got)
	}
	if got := clip.Area(ex.Paths); got != 100 {
		t.Fatalf("explored area: %v", got)
	}

	if err := c.Post(protocol.NewReset(2)); err != nil {
		t.Fatalf("Post reset: %v", err)
	}
	v = recv(t, c.Responses())
	ex = recv(t, c.Responses())
	if v.Paths != nil || ex.Paths != nil || v.ID != 2 {
		t.Fatalf("reset replies should be null: %+v %+v", v, ex)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Post(protocol.NewReset(3)); !errors.Is(err, worker.ErrClosed) {
		t.Fatalf("Post after Close: %v", err)
	}
}

func TestServer_RejectsInvalidRequests(t *testing.T) {
	url := startServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cases := []struct {
		msg  string
		code string
	}{
		{`{"type":"update","id":1,"fov":[[0,0,1]]}`, protocol.ErrProtoBadRequest},
		{`{"type":"teleport","id":2}`, protocol.ErrProtoBadRequest},
		{`{"type":"reset","id":3,"protocol_version":"9.9"}`, protocol.ErrProtoVersion},
		{`not json`, protocol.ErrProtoBadRequest},
	}
	for _, tc := range cases {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var em protocol.ErrorMsg
		if err := json.Unmarshal(b, &em); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if em.Type != protocol.TypeError || em.Code != tc.code {
			t.Fatalf("%s: got %+v", tc.msg, em)
		}
	}
}

func TestCoordinator_OverWebsocket(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := Dial(ctx, url, ClientOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := coordinator.New(client, coordinator.Options{})
	go func() { _ = c.Run(ctx) }()
	defer c.Destroy()

	events, unsub := c.Subscribe(8)
	defer unsub()
	if err := c.UpdateVision([]geom.Path{rect(t, 0, 0, 10, 10)}, nil, false); err != nil {
		t.Fatalf("UpdateVision: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Channel != protocol.Vision || ev.ID != 1 {
			t.Fatalf("event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no vision event")
	}
	visible, known := c.TestVisibility(vision.Probe{Origin: geom.Vec{X: 5, Y: 5}}, 0)
	if !known || !visible {
		t.Fatalf("visible=%v known=%v", visible, known)
	}
}
