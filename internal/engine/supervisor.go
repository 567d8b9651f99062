package engine

import (
	"sync"
	"time"

	"github.com/rzbill/strata/internal/catalog"
	"github.com/rzbill/strata/pkg/log"
)

// stopTimeout bounds how long shutdown waits for any single worker.
const stopTimeout = 5 * time.Second

// supervisor is the only component holding every worker handle. It
// spawns nothing itself; the engine registers workers as it builds them.
// Its health loop pings each worker over the control channel: a missed
// deadline flags the worker unresponsive, a terminated goroutine flags it
// dead. Neither triggers a restart; both are surfaced to operators.
type supervisor struct {
	log log.Logger
	cat *catalog.Catalog

	mu       sync.Mutex
	interval time.Duration
	timeout  time.Duration
	workers  []handle
	health   map[string]WorkerHealth

	stopCh chan struct{}
	doneCh chan struct{}
}

func newSupervisor(cat *catalog.Catalog, interval, timeout time.Duration, logger log.Logger) *supervisor {
	return &supervisor{
		log:      logger.WithComponent("supervisor"),
		cat:      cat,
		interval: interval,
		timeout:  timeout,
		health:   make(map[string]WorkerHealth),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// setWorkers replaces the supervised fleet, dropping health records of
// workers that no longer exist. Called on startup and after a topology
// change.
func (s *supervisor) setWorkers(hs []handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = hs
	known := make(map[string]bool, len(hs))
	for _, h := range hs {
		known[h.name] = true
	}
	for name := range s.health {
		if !known[name] {
			delete(s.health, name)
		}
	}
}

// addWorker registers one extra worker (the config-worker).
func (s *supervisor) addWorker(h handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, h)
}

// setTiming updates the ping period and deadline; the next cycle uses
// them.
func (s *supervisor) setTiming(interval, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.timeout = timeout
}

func (s *supervisor) run() {
	for {
		s.mu.Lock()
		d := s.interval
		s.mu.Unlock()
		select {
		case <-s.stopCh:
			close(s.doneCh)
			return
		case <-time.After(d):
			s.checkAll()
		}
	}
}

func (s *supervisor) checkAll() {
	s.mu.Lock()
	workers := append([]handle(nil), s.workers...)
	timeout := s.timeout
	s.mu.Unlock()

	now := time.Now()
	for _, h := range workers {
		var wh WorkerHealth
		wh.Name = h.name
		if h.dead() {
			wh.Status = HealthDead
			s.log.Error("worker dead", log.Str("worker", h.name))
		} else if p, ok := h.ping(timeout); ok {
			wh.Status = HealthOK
			wh.LastSeen = now
			wh.Errors = p.errors
			if p.errors > 0 {
				if err := s.cat.AddErrors(h.name, p.errors); err != nil {
					s.log.Error("persist error counter", log.Err(err))
				}
			}
		} else {
			wh.Status = HealthUnresponsive
			s.log.Warn("worker unresponsive", log.Str("worker", h.name),
				log.Dur("timeout", timeout))
		}

		s.mu.Lock()
		if prev, ok := s.health[h.name]; ok && wh.LastSeen.IsZero() {
			wh.LastSeen = prev.LastSeen
		}
		s.health[h.name] = wh
		s.mu.Unlock()
	}
}

// report returns the latest health classification per worker.
func (s *supervisor) report() []WorkerHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerHealth, 0, len(s.workers))
	for _, h := range s.workers {
		if wh, ok := s.health[h.name]; ok {
			out = append(out, wh)
		} else {
			out = append(out, WorkerHealth{Name: h.name, Status: HealthOK})
		}
	}
	return out
}

// stopWorkers terminates the given handles in reverse registration order,
// so downstream workers outlive their senders.
func (s *supervisor) stopWorkers(hs []handle) {
	for i := len(hs) - 1; i >= 0; i-- {
		if !hs[i].stop(stopTimeout) {
			s.log.Warn("worker did not stop in time", log.Str("worker", hs[i].name))
		}
	}
}

// stop ends the health loop.
func (s *supervisor) stop() {
	close(s.stopCh)
	<-s.doneCh
}
