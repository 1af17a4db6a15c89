package dispatch

import (
	"go.uber.org/zap"

	"formula/internal/metrics"
	"formula/internal/socket"
)

// Dispatcher sends typed events to sockets. Delivery is best-effort: a
// closed or failing socket degrades to a no-op, never an error for the
// caller.
type Dispatcher struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// Send writes one `{type, ...payload}` frame to conn. Returns false if the
// socket is absent, closed, or the write fails.
func (d *Dispatcher) Send(conn *socket.Conn, eventType string, payload map[string]any) bool {
	if conn == nil || !conn.Open() {
		return false
	}

	frame := make(map[string]any, len(payload)+1)
	frame["type"] = eventType
	for k, v := range payload {
		frame[k] = v
	}

	if err := conn.Send(frame); err != nil {
		d.log.Warn("failed to send message", zap.String("type", eventType), zap.Error(err))
		return false
	}
	metrics.MessagesSent.WithLabelValues(eventType).Inc()
	return true
}

// Broadcast sends the event to every open socket in conns and returns the
// number of successful sends. Callers must not assume all recipients
// received the message.
func (d *Dispatcher) Broadcast(conns []*socket.Conn, eventType string, payload map[string]any) int {
	sent := 0
	for _, conn := range conns {
		if conn == nil || !conn.Open() {
			continue
		}
		if d.Send(conn, eventType, payload) {
			sent++
		}
	}
	return sent
}
