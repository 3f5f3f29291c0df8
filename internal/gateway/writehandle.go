// writehandle.go is a thin, cloneable façade over the connection manager's
// outbound channel. Grounded on the teacher's ratelimit.go TokenBucket,
// reused here in refusing (non-blocking) form for the 2000/min post budget.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotReady        = errors.New("gateway: not ready to trade")
	ErrRateLimited     = errors.New("gateway: rate limited")
	ErrChannelClosed   = errors.New("gateway: outbound channel closed")
	ErrNotConnected    = errors.New("gateway: not connected")
)

// WriteHandle is safe to share across goroutines.
type WriteHandle struct {
	m *Manager
}

// Post queues a rate-limited fire-and-forget request. It requires
// ReadyTrading; a refused rate-limiter token yields ErrRateLimited; on
// successful queue insertion it bumps the inflight counter and returns
// immediately without waiting for a response.
func (w *WriteHandle) Post(id uint64, payload any) error {
	if !w.m.ReadyPhase().CanTrade() {
		return ErrNotReady
	}
	if !w.m.limiter.TryAcquire() {
		return ErrRateLimited
	}

	body, err := json.Marshal(map[string]any{
		"method":  "post",
		"id":      id,
		"request": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}

	select {
	case w.m.outboundCh <- outboundMsg{text: body, isPost: true, id: id}:
		w.m.inflight.Add(1)
		return nil
	default:
		return ErrChannelClosed
	}
}

// SendText requires only Connected (used for subscriptions/ping) and does
// not consume a rate-limit token.
func (w *WriteHandle) SendText(text []byte) error {
	if w.m.State() != Connected {
		return ErrNotConnected
	}
	select {
	case w.m.outboundCh <- outboundMsg{text: text}:
		return nil
	default:
		return ErrChannelClosed
	}
}

// NextPostID returns the next monotonically increasing post correlation id.
func (w *WriteHandle) NextPostID() uint64 {
	return w.m.postID.Add(1)
}

// InflightCount returns the number of posts awaiting a response.
func (w *WriteHandle) InflightCount() int64 {
	return w.m.inflight.Load()
}
