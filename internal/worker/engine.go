// Package worker recomputes vision and explored unions off the caller's
// goroutine. It only talks to the outside world through protocol messages.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"sightline.ai/internal/geom"
	"sightline.ai/internal/geom/clip"
	"sightline.ai/internal/protocol"
)

// Engine owns the running explored union. It is not safe for concurrent use;
// Local and the websocket server drive one Engine from a single goroutine.
type Engine struct {
	explored []geom.Path
}

func NewEngine() *Engine { return &Engine{} }

// Explored returns a copy of the current explored union.
func (e *Engine) Explored() []geom.Path {
	return append([]geom.Path(nil), e.explored...)
}

// Handle applies one request and returns the replies for both channels.
func (e *Engine) Handle(ctx context.Context, req protocol.Request) ([]protocol.ResultMsg, error) {
	switch req.Type {
	case protocol.TypeReset:
		e.explored = nil
		return []protocol.ResultMsg{
			protocol.NewResult(protocol.Vision, req.ID, nil),
			protocol.NewResult(protocol.Explored, req.ID, nil),
		}, nil
	case protocol.TypeUpdate:
		return e.update(ctx, req)
	default:
		return nil, &RequestError{Code: protocol.ErrProtoBadRequest, Msg: "unknown request type " + req.Type}
	}
}

func (e *Engine) update(ctx context.Context, req protocol.Request) ([]protocol.ResultMsg, error) {
	if err := geom.ValidatePaths(req.FOV); err != nil {
		return nil, &RequestError{Code: protocol.ErrBadPath, Msg: "fov: " + err.Error()}
	}
	if err := geom.ValidatePaths(req.LOS); err != nil {
		return nil, &RequestError{Code: protocol.ErrBadPath, Msg: "los: " + err.Error()}
	}

	var vision, explored []geom.Path
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vision, err = clip.UnionAll(req.FOV)
		if err != nil {
			return &RequestError{Code: protocol.ErrInternal, Msg: "fov union: " + err.Error()}
		}
		return ctx.Err()
	})
	if req.Explored {
		g.Go(func() error {
			in := make([]geom.Path, 0, len(e.explored)+len(req.LOS))
			in = append(in, e.explored...)
			in = append(in, req.LOS...)
			var err error
			explored, err = clip.UnionAll(in)
			if err != nil {
				return &RequestError{Code: protocol.ErrInternal, Msg: "explored union: " + err.Error()}
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []protocol.ResultMsg{
		protocol.NewResult(protocol.Vision, req.ID, nonNil(vision)),
		protocol.NewResult(protocol.Explored, req.ID, nil),
	}
	if req.Explored {
		e.explored = explored
		out[1].Paths = nonNil(e.Explored())
	}
	return out, nil
}

// nonNil keeps "computed, nothing there" distinct from "nothing new" (nil).
func nonNil(p []geom.Path) []geom.Path {
	if p == nil {
		return []geom.Path{}
	}
	return p
}

// RequestError is returned for requests the engine refuses.
type RequestError struct {
	Code string
	Msg  string
}

func (e *RequestError) Error() string { return e.Code + ": " + e.Msg }
