package websocket

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}

	if hub.clients == nil { //nolint:staticcheck // SA5011: Check above ensures non-nil
		t.Error("clients map is nil")
	}

	if hub.subscriptions == nil { //nolint:staticcheck // SA5011: Check above ensures non-nil
		t.Error("subscriptions map is nil")
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub()

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", hub.ClientCount())
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub)

	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount after register = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount after unregister = %d, want 0", hub.ClientCount())
	}
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub)

	hub.Subscribe(client, "dialog-1")

	if !client.subscriptions["dialog-1"] {
		t.Error("client.subscriptions does not contain dialog-1")
	}

	if _, ok := hub.subscriptions["dialog-1"]; !ok {
		t.Error("hub.subscriptions does not contain dialog-1")
	}

	if !hub.subscriptions["dialog-1"][client] {
		t.Error("hub.subscriptions[dialog-1] does not contain client")
	}
}

func TestHubSubscribeReplacesPrior(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub)

	hub.Subscribe(client, "dialog-1")
	hub.Subscribe(client, "dialog-2")

	if client.subscriptions["dialog-1"] {
		t.Error("client still subscribed to dialog-1 after re-subscribing")
	}
	if !client.subscriptions["dialog-2"] {
		t.Error("client not subscribed to dialog-2")
	}
	if _, ok := hub.subscriptions["dialog-1"]; ok {
		t.Error("hub.subscriptions still contains dialog-1")
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub)

	hub.Subscribe(client, "dialog-1")
	hub.Unsubscribe(client, "dialog-1")

	if client.subscriptions["dialog-1"] {
		t.Error("client.subscriptions still contains dialog-1")
	}

	if _, ok := hub.subscriptions["dialog-1"]; ok {
		t.Error("hub.subscriptions still contains dialog-1 (should be cleaned up)")
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub)

	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()
	hub.Subscribe(client, "dialog-1")

	testMsg := []byte(`{"type":"dlg_run_state_evt"}`)
	hub.Broadcast("dialog-1", testMsg)

	select {
	case msg := <-client.send:
		if string(msg) != string(testMsg) {
			t.Errorf("received message = %s, want %s", msg, testMsg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast message")
	}
}

func TestHubBroadcastAll(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub)

	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()

	testMsg := []byte(`{"type":"emergency_stop"}`)
	hub.BroadcastAll(testMsg)

	select {
	case msg := <-client.send:
		if string(msg) != string(testMsg) {
			t.Errorf("received message = %s, want %s", msg, testMsg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast message")
	}
}

func TestHubBroadcastTyped(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub)

	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()

	type payload struct {
		Foo string `json:"foo"`
	}
	if err := hub.BroadcastTyped("some_event", payload{Foo: "bar"}); err != nil {
		t.Fatalf("BroadcastTyped: %v", err)
	}

	select {
	case msg := <-client.send:
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type != "some_event" {
			t.Errorf("env.Type = %s, want some_event", env.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast message")
	}
}
