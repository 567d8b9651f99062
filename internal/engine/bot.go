package engine

import (
	"time"

	"github.com/rzbill/strata/pkg/log"
)

// defaultQueueLen sizes every worker data channel. Senders block when a
// queue fills; that backpressure is the flow control.
const defaultQueueLen = 256

// ctlMsg travels on a worker's control channel, which is independent of
// the data channel so termination and health checks are never stuck
// behind backlog.
type ctlMsg struct {
	stop bool
	ping chan pong
}

// pong carries the worker's error count since the previous ping.
type pong struct {
	errors uint64
}

// bot is the common core of every worker: identity, logging, control
// channel and termination signal.
type bot struct {
	name string
	log  log.Logger
	ctl  chan ctlMsg
	done chan struct{}

	errCount uint64
}

func newBot(name string, logger log.Logger) bot {
	return bot{
		name: name,
		log:  logger.WithComponent(name),
		ctl:  make(chan ctlMsg, 4),
		done: make(chan struct{}),
	}
}

// countError logs an error and accumulates it for the next health ping.
func (b *bot) countError(msg string, err error) {
	b.errCount++
	b.log.Error(msg, log.Err(err))
}

// handleCtl services one control message. It returns false when the
// worker must stop; the caller is responsible for cleanup and closing
// done.
func (b *bot) handleCtl(m ctlMsg) bool {
	if m.stop {
		return false
	}
	if m.ping != nil {
		m.ping <- pong{errors: b.errCount}
		b.errCount = 0
	}
	return true
}

// handle identifies a worker to the supervisor.
type handle struct {
	name string
	ctl  chan ctlMsg
	done chan struct{}
}

func (b *bot) handle() handle {
	return handle{name: b.name, ctl: b.ctl, done: b.done}
}

// stop asks the worker to terminate and waits for it, bounded by timeout.
func (h handle) stop(timeout time.Duration) bool {
	select {
	case h.ctl <- ctlMsg{stop: true}:
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ping checks liveness, returning the worker's error delta.
func (h handle) ping(timeout time.Duration) (pong, bool) {
	reply := make(chan pong, 1)
	select {
	case h.ctl <- ctlMsg{ping: reply}:
	case <-time.After(timeout):
		return pong{}, false
	}
	select {
	case p := <-reply:
		return p, true
	case <-time.After(timeout):
		return pong{}, false
	}
}

// dead reports whether the worker's goroutine has terminated.
func (h handle) dead() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
