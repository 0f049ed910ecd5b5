package proto

import (
	"encoding/json"
	"fmt"

	"sightline/server/internal/codec"
	"sightline/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
)

// Client message type identifiers.
const (
	TypeInput     = "input"
	TypeSpawn     = "spawn"
	TypeLeave     = "leave"
	TypeHeartbeat = "heartbeat"
)

// ClientMessage is the envelope for every client-to-server payload. Text
// frames carry JSON, binary frames carry CBOR with the same keys.
type ClientMessage struct {
	Ver        int     `json:"ver,omitempty"`
	Type       string  `json:"type"`
	DX         float64 `json:"dx,omitempty"`
	DY         float64 `json:"dy,omitempty"`
	Kind       string  `json:"kind,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	SentAt     int64   `json:"sentAt,omitempty"`
	CommandSeq *uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage parses a JSON payload.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	return checkVersion(msg)
}

// DecodeBinaryClientMessage parses a CBOR payload.
func DecodeBinaryClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := codec.Unmarshal(payload, &msg); err != nil {
		if notation, diagErr := codec.Diagnose(payload); diagErr == nil {
			return msg, fmt.Errorf("%w: payload %s", err, notation)
		}
		return msg, err
	}
	return checkVersion(msg)
}

func checkVersion(msg ClientMessage) (ClientMessage, error) {
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// Seq returns the command sequence number, zero when absent.
func (m ClientMessage) Seq() uint64 {
	if m.CommandSeq == nil {
		return 0
	}
	return *m.CommandSeq
}

// ClientCommand maps a client message onto a simulation command. Heartbeats
// and unknown types report false.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeInput:
		return sim.Command{
			Type: sim.CommandMove,
			Move: &sim.MoveCommand{DX: msg.DX, DY: msg.DY},
		}, true
	case TypeSpawn:
		if msg.Kind == "" {
			return sim.Command{}, false
		}
		return sim.Command{
			Type:  sim.CommandSpawn,
			Spawn: &sim.SpawnCommand{Kind: msg.Kind, X: msg.X, Y: msg.Y},
		}, true
	case TypeLeave:
		reason := msg.Reason
		if reason == "" {
			reason = "client_leave"
		}
		return sim.Command{
			Type:  sim.CommandLeave,
			Leave: &sim.LeaveCommand{Reason: reason},
		}, true
	default:
		return sim.Command{}, false
	}
}

// Header opens every server control message. Encoders fill it in.
type Header struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
}

// CommandAck acknowledges a staged command.
type CommandAck struct {
	Header
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	msg.Header = Header{Ver: Version, Type: typeCommandAck}
	return json.Marshal(msg)
}

// CommandReject tells the client a command was not staged. Retry is set for
// throttling rejections the client may resend.
type CommandReject struct {
	Header
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
	Tick   uint64 `json:"tick,omitempty"`
}

func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	msg.Header = Header{Ver: Version, Type: typeCommandReject}
	return json.Marshal(msg)
}

// Heartbeat echoes the client's clock with the server's.
type Heartbeat struct {
	Header
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
	RTTMillis  int64 `json:"rtt"`
}

func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	msg.Header = Header{Ver: Version, Type: typeHeartbeat}
	return json.Marshal(msg)
}

// JoinResponse is returned by the join endpoint.
type JoinResponse struct {
	Ver      int    `json:"ver"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	TickRate int    `json:"tickRate"`
	// Compression names the frame compression used for replication frames.
	Compression string `json:"compression"`
}

func EncodeJoinResponse(msg JoinResponse) ([]byte, error) {
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	return json.Marshal(msg)
}
