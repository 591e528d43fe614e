package presence

import "github.com/omochice/canvas-presence/pkg/protocol"

// outbox is the FIFO of messages waiting for a connection. When limit is
// positive the oldest messages are dropped to make room.
type outbox struct {
	items []protocol.Message
	limit int
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

// push appends msg and returns how many old messages were dropped.
func (q *outbox) push(msg protocol.Message) int {
	q.items = append(q.items, msg)
	return q.trim()
}

// pushFront puts msgs back ahead of everything queued, keeping their order.
func (q *outbox) pushFront(msgs ...protocol.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	items := make([]protocol.Message, 0, len(msgs)+len(q.items))
	items = append(items, msgs...)
	q.items = append(items, q.items...)
	return q.trim()
}

// drain empties the queue and returns its contents in order.
func (q *outbox) drain() []protocol.Message {
	items := q.items
	q.items = nil
	return items
}

// discard removes every message addressed to canvasID.
func (q *outbox) discard(canvasID string) int {
	kept := q.items[:0]
	for _, msg := range q.items {
		if id, ok := msg.CanvasID(); ok && id == canvasID {
			continue
		}
		kept = append(kept, msg)
	}
	n := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	return n
}

func (q *outbox) len() int {
	return len(q.items)
}

func (q *outbox) trim() int {
	if q.limit <= 0 || len(q.items) <= q.limit {
		return 0
	}
	n := len(q.items) - q.limit
	clear(q.items[:n])
	q.items = q.items[n:]
	return n
}
