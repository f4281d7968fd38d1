// Package notify delivers change notifications from the hospital data
// store to the scheduler. Two transports are supported: Postgres
// LISTEN/NOTIFY and a Phoenix-style realtime websocket; both normalize to
// the same Notification shape.
package notify

import "context"

// Notification is one change event on a watched table.
type Notification struct {
	// Table is the table the change happened on; the scheduler only acts
	// on its configured table.
	Table string `json:"table"`
	// Op is INSERT, UPDATE or DELETE.
	Op string `json:"op"`
	// Payload carries the changed row, transport-dependent.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Source is a stream of change notifications. Start blocks until ctx is
// cancelled or the source fails terminally; Notifications stays readable
// across transparent reconnects.
type Source interface {
	Start(ctx context.Context) error
	Notifications() <-chan Notification
	Close() error
}
