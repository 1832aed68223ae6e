package websocket

import (
	"encoding/json"
	"testing"
)

func TestEnvelope_JSONSerialization(t *testing.T) {
	payload := json.RawMessage(`{"dialog":{"selfId":"a","rootId":"a"}}`)

	msg := Envelope{Type: "display_dialog", Payload: payload}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal Envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal Envelope: %v", err)
	}

	if decoded.Type != msg.Type {
		t.Errorf("Type mismatch: got %q, want %q", decoded.Type, msg.Type)
	}
	if string(decoded.Payload) != string(msg.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decoded.Payload, msg.Payload)
	}
}

func TestEnvelope_OmitEmptyPayload(t *testing.T) {
	msg := Envelope{Type: TypePing}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal Envelope: %v", err)
	}

	if containsStr(string(data), "payload") {
		t.Error("empty payload should be omitted")
	}
}

func TestTransportMessageTypes(t *testing.T) {
	tests := []struct {
		name     string
		constant string
		expected string
	}{
		{"TypePing", TypePing, "ping"},
		{"TypePong", TypePong, "pong"},
		{"TypeError", TypeError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.constant != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.constant, tt.expected)
			}
		})
	}
}

func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
