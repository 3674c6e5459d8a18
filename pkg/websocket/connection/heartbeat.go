package connection

import (
	"time"
)

// heartbeat owns the ping timer and the single pong deadline. It holds no lock of its
// own: every method runs under connectionManager.mu, and the timer callbacks re-enter
// the manager, which checks the epoch and sequence numbers before acting.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	onTick   func(epoch uint64)
	onExpire func(epoch, seq uint64)

	epoch      uint64
	running    bool
	pingTimer  *time.Timer
	deadline   *time.Timer
	seq        uint64
	pendingSeq uint64
}

func newHeartbeat(interval, timeout time.Duration, onTick func(uint64), onExpire func(uint64, uint64)) *heartbeat {
	return &heartbeat{
		interval: interval,
		timeout:  timeout,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

func (hb *heartbeat) start() {
	hb.stop()
	hb.running = true
	hb.scheduleNextPing()
}

// stop cancels both timers. Callbacks already in flight see a new epoch and back off.
func (hb *heartbeat) stop() {
	hb.epoch++
	hb.running = false

	if hb.pingTimer != nil {
		hb.pingTimer.Stop()
		hb.pingTimer = nil
	}
	hb.clearDeadline()
}

func (hb *heartbeat) isCurrent(epoch uint64) bool {
	return hb.running && epoch == hb.epoch
}

func (hb *heartbeat) scheduleNextPing() {
	if !hb.running {
		return
	}
	epoch := hb.epoch
	hb.pingTimer = time.AfterFunc(hb.interval, func() {
		hb.onTick(epoch)
	})
}

func (hb *heartbeat) pending() bool {
	return hb.pendingSeq != 0
}

func (hb *heartbeat) armDeadline() {
	hb.seq++
	seq, epoch := hb.seq, hb.epoch
	hb.pendingSeq = seq
	hb.deadline = time.AfterFunc(hb.timeout, func() {
		hb.onExpire(epoch, seq)
	})
}

// pongReceived cancels the pending deadline. A pong with nothing pending (including
// one that arrives after its deadline fired) is reported as false and ignored.
func (hb *heartbeat) pongReceived() bool {
	if !hb.pending() {
		return false
	}
	hb.clearDeadline()
	return true
}

// expire consumes the deadline identified by seq, unless a pong already cleared it
func (hb *heartbeat) expire(seq uint64) bool {
	if seq != hb.pendingSeq {
		return false
	}
	hb.pendingSeq = 0
	hb.deadline = nil
	return true
}

func (hb *heartbeat) clearDeadline() {
	if hb.deadline != nil {
		hb.deadline.Stop()
		hb.deadline = nil
	}
	hb.pendingSeq = 0
}
