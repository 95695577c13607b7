package protocol

import (
	"encoding/json"

	"sightline.ai/internal/geom"
)

const Version = "1.0"

// Message types.
const (
	TypeReset    = "reset"
	TypeUpdate   = "update"
	TypeVision   = "vision"
	TypeExplored = "explored"
	TypeError    = "error"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              uint64 `json:"id"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Request is a coordinator -> worker command. Reset requests carry only the
// id; update requests carry the current field-of-view and line-of-sight
// rings.
type Request struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	ID              uint64      `json:"id"`
	FOV             []geom.Path `json:"fov,omitempty"`
	LOS             []geom.Path `json:"los,omitempty"`
	// Explored folds LOS into the worker's explored union.
	Explored bool `json:"explored,omitempty"`
}

func NewReset(id uint64) Request {
	return Request{Type: TypeReset, ProtocolVersion: Version, ID: id}
}

func NewUpdate(id uint64, fov, los []geom.Path, explored bool) Request {
	return Request{Type: TypeUpdate, ProtocolVersion: Version, ID: id, FOV: fov, LOS: los, Explored: explored}
}

// ResultMsg is a worker -> coordinator reply for one channel. A nil Paths
// (JSON null) means nothing new is ready for that id.
type ResultMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	ID              uint64      `json:"id"`
	Paths           []geom.Path `json:"paths"`
}

func NewResult(ch Channel, id uint64, paths []geom.Path) ResultMsg {
	return ResultMsg{Type: ch.String(), ProtocolVersion: Version, ID: id, Paths: paths}
}

// ErrorMsg reports a request the worker could not accept.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              uint64 `json:"id"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// Channel names one of the two independently published results.
type Channel uint8

const (
	Vision Channel = iota
	Explored
)

// Channels lists every channel in a stable order.
var Channels = [...]Channel{Vision, Explored}

func (c Channel) String() string {
	if c == Explored {
		return TypeExplored
	}
	return TypeVision
}

// ChannelOf maps a result type to its channel.
func ChannelOf(typ string) (Channel, bool) {
	switch typ {
	case TypeVision:
		return Vision, true
	case TypeExplored:
		return Explored, true
	}
	return 0, false
}
