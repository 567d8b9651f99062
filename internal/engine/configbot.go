package engine

import (
	"fmt"
	"time"

	"github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/pkg/log"
)

// changeTopologyMsg carries an explicit configuration change request.
// Routing every change through the config-worker serializes topology
// operations.
type changeTopologyMsg struct {
	cfg   *config.Config
	reply chan error
}

// configbot watches for configuration changes, classifies them against
// the applied topology and initiates the matching migration. Changes
// arrive explicitly (ChangeTopology) or from polling the config file.
type configbot struct {
	bot
	eng *Engine

	data chan any

	path      string
	pollEvery time.Duration
}

func newConfigbot(eng *Engine, path string, pollEvery time.Duration, logger log.Logger) *configbot {
	return &configbot{
		bot:       newBot("cfgbot", logger),
		eng:       eng,
		data:      make(chan any, 8),
		path:      path,
		pollEvery: pollEvery,
	}
}

func (c *configbot) run() {
	var pollCh <-chan time.Time
	if c.path != "" {
		ticker := time.NewTicker(c.pollEvery)
		defer ticker.Stop()
		pollCh = ticker.C
	}
	for {
		select {
		case m := <-c.ctl:
			if !c.handleCtl(m) {
				close(c.done)
				return
			}
		case msg := <-c.data:
			switch m := msg.(type) {
			case changeTopologyMsg:
				m.reply <- c.apply(m.cfg)
			case drainMsg:
				m.reply <- struct{}{}
			default:
				c.countError("unexpected message", fmt.Errorf("%w: %T", ErrConsistency, msg))
			}
		case <-pollCh:
			c.poll()
		}
	}
}

func (c *configbot) apply(next *config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	applied := c.eng.appliedConfig()
	kind := config.Diff(applied, next)
	if kind == config.ChangeNone {
		return nil
	}
	c.log.Info("configuration change detected",
		log.Str("kind", kind.String()),
		log.Str("from", applied.Topology.Version()),
		log.Str("to", next.Topology.Version()))
	return c.eng.applyChange(kind, next)
}

// poll reloads the config file and applies any change it finds. Errors
// are logged, not fatal: a malformed edit must not take the engine down.
func (c *configbot) poll() {
	cfg, err := config.Load(c.path)
	if err != nil {
		c.countError("reload config file", err)
		return
	}
	config.FromEnv(&cfg)
	if err := c.apply(&cfg); err != nil {
		c.countError("apply config file change", err)
	}
}
