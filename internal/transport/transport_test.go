package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestLoopbackDelivery(t *testing.T) {
	hub := NewLoopbackHub()
	alice := hub.Endpoint("alice")
	bob := hub.Endpoint("bob")

	var got []Message
	bob.OnMessage(func(msg Message) { got = append(got, msg) })

	msg, err := NewMessage(TypeSyncData, "alice", "bob", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := alice.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got) != 1 || got[0].Type != TypeSyncData || got[0].SenderID != "alice" {
		t.Fatalf("received = %+v", got)
	}
}

func TestLoopbackUnknownTarget(t *testing.T) {
	hub := NewLoopbackHub()
	alice := hub.Endpoint("alice")
	msg, _ := NewMessage(TypeSyncData, "alice", "nobody", nil)
	if err := alice.Send(context.Background(), msg); err == nil {
		t.Error("send to unknown target should fail")
	}
}

func TestLoopbackOfflineAndFailureInjection(t *testing.T) {
	hub := NewLoopbackHub()
	alice := hub.Endpoint("alice")
	bob := hub.Endpoint("bob")
	bob.OnMessage(func(Message) {})

	msg, _ := NewMessage(TypeSyncData, "alice", "bob", nil)

	alice.SetOnline(false)
	if err := alice.Send(context.Background(), msg); err != ErrOffline {
		t.Errorf("offline send err = %v, want ErrOffline", err)
	}
	alice.SetOnline(true)

	alice.FailNext(1)
	if err := alice.Send(context.Background(), msg); err == nil {
		t.Error("injected failure did not surface")
	}
	if err := alice.Send(context.Background(), msg); err != nil {
		t.Errorf("send after injected failure: %v", err)
	}
}

// testRelay is a minimal routing relay for websocket transport tests.
type testRelay struct {
	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	relay := &testRelay{conns: make(map[string]*websocket.Conn)}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		party := r.URL.Query().Get("party")
		relay.mu.Lock()
		relay.conns[party] = conn
		relay.mu.Unlock()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg Message
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			relay.mu.Lock()
			target := relay.conns[msg.TargetID]
			relay.mu.Unlock()
			if target != nil {
				writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = target.Write(writeCtx, websocket.MessageText, data)
				cancel()
			}
		}
	}))
}

func TestWSTransportRoundTrip(t *testing.T) {
	srv := newTestRelay(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice, err := DialWS(ctx, wsURL, "alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()

	bob, err := DialWS(ctx, wsURL, "bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()

	received := make(chan Message, 1)
	bob.OnMessage(func(msg Message) { received <- msg })

	msg, _ := NewMessage(TypeSessionRequest, "alice", "bob", map[string]string{"sessionId": "sess_1"})
	if err := alice.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != TypeSessionRequest || got.SenderID != "alice" {
			t.Errorf("received = %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relayed message")
	}

	if !alice.Online() || !bob.Online() {
		t.Error("transports should report online")
	}
}

func TestWSTransportSendAfterClose(t *testing.T) {
	srv := newTestRelay(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	alice, err := DialWS(ctx, wsURL, "alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := alice.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	msg, _ := NewMessage(TypeSyncData, "alice", "bob", nil)
	if err := alice.Send(ctx, msg); err != ErrOffline {
		t.Errorf("send after close err = %v, want ErrOffline", err)
	}
}
