package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSTransport delivers envelopes through a websocket relay. Each party dials
// the relay once, identifies itself by party id, and the relay routes
// envelopes by their TargetID.
type WSTransport struct {
	selfID string
	logger *log.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	handler Handler
	online  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialWS connects to the relay at relayURL as selfID and starts the read
// loop. If logger is nil, a default stderr logger is used.
func DialWS(ctx context.Context, relayURL, selfID string, logger *log.Logger) (*WSTransport, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("party", selfID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t := &WSTransport{
		selfID: selfID,
		logger: logger,
		conn:   conn,
		online: true,
		ctx:    runCtx,
		cancel: cancel,
	}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// Send writes the envelope to the relay, bounded by ctx.
func (t *WSTransport) Send(ctx context.Context, msg Message) error {
	t.mu.RLock()
	conn := t.conn
	online := t.online
	t.mu.RUnlock()
	if !online || conn == nil {
		return ErrOffline
	}

	if msg.SenderID == "" {
		msg.SenderID = t.selfID
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// OnMessage registers the inbound handler.
func (t *WSTransport) OnMessage(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Online reports whether the relay link is up.
func (t *WSTransport) Online() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

// Close shuts the link down and waits for the read loop.
func (t *WSTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.online = false
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	t.wg.Wait()
	return nil
}

func (t *WSTransport) readLoop() {
	defer t.wg.Done()
	for {
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(t.ctx)
		if err != nil {
			t.mu.Lock()
			t.online = false
			t.mu.Unlock()
			if t.ctx.Err() == nil {
				t.logger.Printf("relay link lost: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Printf("dropping malformed envelope: %v", err)
			continue
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(msg)
		}
	}
}
