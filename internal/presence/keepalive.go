package presence

import "time"

// keepalive drives the periodic ping. A stopped keepalive has a nil channel,
// which blocks forever in a select.
type keepalive struct {
	interval time.Duration
	ticker   *time.Ticker
}

func (k *keepalive) start() {
	if k.running() || k.interval <= 0 {
		return
	}
	k.ticker = time.NewTicker(k.interval)
}

func (k *keepalive) stop() {
	if !k.running() {
		return
	}
	k.ticker.Stop()
	k.ticker = nil
}

func (k *keepalive) running() bool {
	return k.ticker != nil
}

func (k *keepalive) C() <-chan time.Time {
	if k.ticker == nil {
		return nil
	}
	return k.ticker.C
}
