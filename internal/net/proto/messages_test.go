package proto

import (
	"encoding/json"
	"strings"
	"testing"

	"sightline/server/internal/codec"
	"sightline/server/internal/sim"
)

func TestClientCommand(t *testing.T) {
	t.Run("move command", func(t *testing.T) {
		cmd, ok := ClientCommand(ClientMessage{Type: TypeInput, DX: 1, DY: -0.5})
		if !ok {
			t.Fatalf("expected move command to be recognized")
		}
		if cmd.Type != sim.CommandMove || cmd.Move == nil {
			t.Fatalf("unexpected command %+v", cmd)
		}
		if cmd.Move.DX != 1 || cmd.Move.DY != -0.5 {
			t.Fatalf("unexpected move vector: %+v", cmd.Move)
		}
	})

	t.Run("spawn requires kind", func(t *testing.T) {
		if _, ok := ClientCommand(ClientMessage{Type: TypeSpawn, X: 1}); ok {
			t.Fatalf("expected spawn without kind to be rejected")
		}
		cmd, ok := ClientCommand(ClientMessage{Type: TypeSpawn, Kind: "prop", X: 4, Y: 5})
		if !ok || cmd.Spawn == nil || cmd.Spawn.Kind != "prop" || cmd.Spawn.X != 4 {
			t.Fatalf("unexpected spawn command %+v", cmd)
		}
	})

	t.Run("leave defaults reason", func(t *testing.T) {
		cmd, ok := ClientCommand(ClientMessage{Type: TypeLeave})
		if !ok || cmd.Leave == nil || cmd.Leave.Reason != "client_leave" {
			t.Fatalf("unexpected leave command %+v", cmd)
		}
	})

	t.Run("heartbeat is not a command", func(t *testing.T) {
		if _, ok := ClientCommand(ClientMessage{Type: TypeHeartbeat}); ok {
			t.Fatalf("expected heartbeat to be handled outside the command path")
		}
	})
}

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"input","dx":1,"seq":7}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Ver != Version || msg.Seq() != 7 || msg.DX != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if _, err := DecodeClientMessage([]byte(`{"ver":9,"type":"input"}`)); err == nil {
		t.Fatalf("expected unsupported version to fail")
	}
	if _, err := DecodeClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("expected malformed payload to fail")
	}
}

func TestDecodeBinaryClientMessage(t *testing.T) {
	payload, err := codec.Marshal(map[string]any{"type": TypeSpawn, "kind": "prop", "x": 3.5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := DecodeBinaryClientMessage(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TypeSpawn || msg.Kind != "prop" || msg.X != 3.5 || msg.Seq() != 0 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDecodeBinaryClientMessageDescribesMistypedPayload(t *testing.T) {
	payload, err := codec.Marshal(map[string]any{"type": 42})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = DecodeBinaryClientMessage(payload)
	if err == nil {
		t.Fatalf("expected a numeric type field to be rejected")
	}
	if !strings.Contains(err.Error(), `"type"`) || !strings.Contains(err.Error(), "42") {
		t.Fatalf("expected the payload in diagnostic notation, got %v", err)
	}
}

func TestEncodeCommandReject(t *testing.T) {
	data, err := EncodeCommandReject(CommandReject{Seq: 3, Reason: "queue_limit", Retry: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != typeCommandReject || decoded["retry"] != true || decoded["seq"] != float64(3) {
		t.Fatalf("unexpected payload %s", data)
	}
	if _, ok := decoded["tick"]; ok {
		t.Fatalf("expected zero tick to be omitted: %s", data)
	}
}

func TestEncodeCommandAckIncludesTick(t *testing.T) {
	data, err := EncodeCommandAck(CommandAck{Seq: 1, Tick: 42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != typeCommandAck || decoded["tick"] != float64(42) {
		t.Fatalf("unexpected payload %s", data)
	}
}
