package codec

import (
	"fmt"
)

// Kind identifies a replication message.
type Kind uint8

const (
	KindSpawn Kind = iota + 1
	KindState
	KindDespawn
	KindWelcome
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindState:
		return "state"
	case KindDespawn:
		return "despawn"
	case KindWelcome:
		return "welcome"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is the replication envelope sent to clients.
type Message struct {
	Kind   Kind              `cbor:"k"`
	Tick   uint64            `cbor:"t"`
	Entity uint64            `cbor:"e,omitempty"`
	Type   string            `cbor:"ty,omitempty"`
	X      float64           `cbor:"x,omitempty"`
	Y      float64           `cbor:"y,omitempty"`
	Player string            `cbor:"p,omitempty"`
	Attrs  map[string]string `cbor:"a,omitempty"`
}

// EncodeMessage encodes msg to CBOR.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Kind == 0 {
		return nil, fmt.Errorf("codec: message has no kind")
	}
	data, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", msg.Kind, err)
	}
	return data, nil
}

// DecodeMessage decodes a CBOR message body.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("codec: decode message: %w", err)
	}
	return msg, nil
}
