package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"predix/pkg/types"
)

// Stream is a live subscription to one event's book feed. Frames arrive on
// Messages; the first frame is always a full snapshot.
type Stream struct {
	conn     *websocket.Conn
	messages chan types.WSMessage
	done     chan struct{}
}

// Subscribe opens the book feed for eventID. baseURL is the exchange HTTP
// address; the scheme is rewritten for WebSocket.
func Subscribe(ctx context.Context, baseURL string, eventID int64) (*Stream, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/orderbook/%d", eventID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	s := &Stream{
		conn:     conn,
		messages: make(chan types.WSMessage, 64),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Messages returns the frame channel. It closes when the server ends the
// feed (event resolved) or the connection drops.
func (s *Stream) Messages() <-chan types.WSMessage { return s.messages }

// Refresh asks the server for a fresh full snapshot.
func (s *Stream) Refresh() error {
	return s.writeJSON(types.WSMessage{Type: types.MsgRefresh, Timestamp: time.Now().UTC()})
}

// Ping sends an application-level ping; the server answers with a pong frame.
func (s *Stream) Ping() error {
	return s.writeJSON(types.WSMessage{Type: types.MsgPing, Timestamp: time.Now().UTC()})
}

// Close tears the subscription down.
func (s *Stream) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

func (s *Stream) writeJSON(msg types.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) readLoop() {
	defer func() {
		close(s.done)
		close(s.messages)
		s.conn.Close()
	}()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg types.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		select {
		case s.messages <- msg:
		default:
			// Drop frames a slow consumer cannot keep up with; the next
			// refresh or update restores a consistent view.
		}
	}
}
