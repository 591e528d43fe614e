package protocol

import (
	"strconv"
	"sync/atomic"
)

// RefSource hands out correlation refs for outbound messages.
type RefSource interface {
	Ref(event Event) string
}

// FixedRefs reuses one ref per event kind, which is what the presence server
// has always been sent. Replies cannot be matched to a specific request.
type FixedRefs struct{}

// Ref implements RefSource.
func (FixedRefs) Ref(event Event) string {
	switch event {
	case EventJoin:
		return "1"
	case EventPing:
		return "2"
	case EventUpdateMeta:
		return "3"
	case EventLeave:
		return "4"
	default:
		return "0"
	}
}

// CounterRefs issues a monotonically increasing ref per message.
type CounterRefs struct {
	next atomic.Uint64
}

// Ref implements RefSource.
func (c *CounterRefs) Ref(Event) string {
	return strconv.FormatUint(c.next.Add(1), 10)
}
