package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	cfgpkg "github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/db"
	httpserver "github.com/rzbill/strata/internal/server/http"
	logpkg "github.com/rzbill/strata/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// getenv is swapped out in tests.
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir    string
	HTTPAddr   string
	ConfigPath string
	Force      bool
	Config     cfgpkg.Config
}

// Run opens the engine, starts the HTTP surface and blocks until ctx is
// cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context; layer
	// a local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	cfgpkg.FromEnv(&cfg)

	logCfg := &logpkg.Config{
		Level:  getenvDefault("STRATA_LOG_LEVEL", "info"),
		Format: getenvDefault("STRATA_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (Pebble) to our logger.
	logpkg.RedirectStdLog(procLogger)

	procLogger.Info("Starting Strata server",
		logpkg.Str("dataDir", cfg.DataDir),
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	d, err := db.Open(db.Options{
		Config:     &cfg,
		Logger:     procLogger,
		ConfigPath: opts.ConfigPath,
		Force:      opts.Force,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	hsrv := httpserver.New(d, procLogger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("http server", logpkg.Err(err))
		}
	}()

	<-sctx.Done()
	// Shut the HTTP surface down before the engine so in-flight requests
	// drain against a live fleet.
	hsrv.Close()
	wg.Wait()
	return nil
}
