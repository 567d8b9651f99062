// Package httpserver provides a minimal REST gateway for Strata with JSON
// endpoints mirroring the engine facade: kv put/get/del plus the admin
// operations for state, cache and compaction control.
//
// Example:
//
//	d, _ := db.Open(db.Options{Config: &cfg, Logger: logger})
//	s := httpserver.New(d, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8460")
package httpserver
