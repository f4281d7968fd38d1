package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute
	// listenerPingInterval keeps the connection verified during quiet
	// stretches; pq reconnects on a failed ping.
	listenerPingInterval = 90 * time.Second
)

// PGSource consumes Postgres NOTIFY events. The database side is a
// trigger that emits a JSON payload {"table": ..., "op": ..., "record": ...}
// on the configured channel.
type PGSource struct {
	listener *pq.Listener
	channel  string
	out      chan Notification
	logger   *zap.Logger

	closeOnce sync.Once
}

type pgPayload struct {
	Table  string                 `json:"table"`
	Op     string                 `json:"op"`
	Record map[string]interface{} `json:"record"`
}

// NewPGSource creates a LISTEN/NOTIFY source over the given DSN.
func NewPGSource(dsn, channel string, logger *zap.Logger) *PGSource {
	s := &PGSource{
		channel: channel,
		out:     make(chan Notification, 64),
		logger:  logger,
	}
	s.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				logger.Info("Notification listener connected", zap.String("channel", channel))
			case pq.ListenerEventReconnected:
				logger.Info("Notification listener reconnected", zap.String("channel", channel))
			case pq.ListenerEventDisconnected:
				logger.Warn("Notification listener disconnected", zap.Error(err))
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Warn("Notification listener reconnect failed", zap.Error(err))
			}
		})
	return s
}

// Start listens on the channel and pumps events until ctx is cancelled.
func (s *PGSource) Start(ctx context.Context) error {
	if err := s.listener.Listen(s.channel); err != nil {
		return fmt.Errorf("listen on %s: %w", s.channel, err)
	}

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			if err := s.listener.Ping(); err != nil {
				s.logger.Warn("Listener ping failed", zap.Error(err))
			}
		case n, ok := <-s.listener.Notify:
			if !ok {
				return fmt.Errorf("notification channel closed")
			}
			if n == nil {
				// pq sends nil after a reconnect; events may have been
				// missed, but the periodic run covers the gap.
				continue
			}
			s.deliver(n.Extra)
		}
	}
}

func (s *PGSource) deliver(raw string) {
	var payload pgPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		s.logger.Warn("Malformed notification payload", zap.String("payload", raw), zap.Error(err))
		return
	}
	select {
	case s.out <- Notification{Table: payload.Table, Op: payload.Op, Payload: payload.Record}:
	default:
		// The scheduler debounces aggressively; dropping a burst here
		// loses nothing a later notification or the periodic run won't
		// trigger anyway.
		s.logger.Debug("Notification buffer full, dropping event",
			zap.String("table", payload.Table))
	}
}

// Notifications returns the normalized event stream.
func (s *PGSource) Notifications() <-chan Notification {
	return s.out
}

// Close stops the listener. The stream channel stays open so a concurrent
// deliver can never panic; consumers exit via their own context.
func (s *PGSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
	})
	return err
}
