package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsHeartbeatInterval = 30 * time.Second
	wsWriteTimeout      = 10 * time.Second
	wsInitialBackoff    = time.Second
	wsMaxBackoff        = time.Minute
)

// WSSource consumes a Phoenix-style realtime websocket (the protocol the
// managed Postgres platforms expose). It joins one topic per watched table
// and maps row change events to Notifications, reconnecting with backoff.
type WSSource struct {
	url    string
	apiKey string
	table  string
	out    chan Notification
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// phxMessage is the Phoenix channel frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type wsChangePayload struct {
	Type   string                 `json:"type"`
	Table  string                 `json:"table"`
	Record map[string]interface{} `json:"record"`
}

// NewWSSource creates a realtime websocket source watching one table.
func NewWSSource(url, apiKey, table string, logger *zap.Logger) *WSSource {
	return &WSSource{
		url:    url,
		apiKey: apiKey,
		table:  table,
		out:    make(chan Notification, 64),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Start maintains the connection until ctx is cancelled, reconnecting with
// exponential backoff on any failure.
func (s *WSSource) Start(ctx context.Context) error {
	backoff := wsInitialBackoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Realtime session ended, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsMaxBackoff {
			backoff = wsMaxBackoff
		}
	}
}

// session runs one connection: join, heartbeat loop, read loop. It returns
// when the connection drops or ctx is cancelled.
func (s *WSSource) session(ctx context.Context) error {
	url := s.url
	if s.apiKey != "" {
		url = fmt.Sprintf("%s?apikey=%s", s.url, s.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	topic := fmt.Sprintf("realtime:public:%s", s.table)
	if err := s.send(conn, phxMessage{Topic: topic, Event: "phx_join", Payload: json.RawMessage(`{}`), Ref: "1"}); err != nil {
		return fmt.Errorf("join topic: %w", err)
	}
	s.logger.Info("Realtime topic joined", zap.String("topic", topic))

	// Heartbeats keep the server from reaping the connection; the read
	// loop below owns the connection lifetime.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go func() {
		ticker := time.NewTicker(wsHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				msg := phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: "0"}
				if err := s.send(conn, msg); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		switch msg.Event {
		case "INSERT", "UPDATE", "DELETE":
			s.deliver(msg.Event, msg.Payload)
		case "phx_reply", "phx_error", "heartbeat":
			// channel management frames
		}
	}
}

func (s *WSSource) send(conn *websocket.Conn, msg phxMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}

func (s *WSSource) deliver(op string, raw json.RawMessage) {
	var payload wsChangePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("Malformed realtime payload", zap.Error(err))
		return
	}
	table := payload.Table
	if table == "" {
		table = s.table
	}
	select {
	case s.out <- Notification{Table: table, Op: op, Payload: payload.Record}:
	default:
		s.logger.Debug("Notification buffer full, dropping event", zap.String("table", table))
	}
}

// Notifications returns the normalized event stream.
func (s *WSSource) Notifications() <-chan Notification {
	return s.out
}

// Close stops reconnecting. The stream channel stays open so a concurrent
// deliver can never panic; consumers exit via their own context.
func (s *WSSource) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}
