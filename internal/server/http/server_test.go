package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/internal/db"
	logpkg "github.com/rzbill/strata/pkg/log"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Topology = cfgpkg.Topology{
		NumZones:      1,
		CbotsPerZone:  1,
		FbotsPerZone:  1,
		IgbotsPerZone: 1,
		RbotsPerZone:  1,
	}
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	d, err := db.Open(db.Options{Config: &cfg, Logger: logger})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(openTestDB(t), logger)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestPutGetDeleteHandlers(t *testing.T) {
	s := newTestServer(t)

	body := `{"key":"orders","value":"aGVsbG8="}`
	req := httptest.NewRequest(http.MethodPost, "/v1/kv/put", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("put status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/kv/get?key=orders", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("get status: %d", w.Code)
	}
	var rep struct {
		Value      []byte `json:"value"`
		MaybeStale bool   `json:"maybeStale"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(rep.Value) != "hello" {
		t.Fatalf("value: %q", rep.Value)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/kv/del", strings.NewReader(`{"key":"orders"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("del status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/kv/get?key=orders", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status: %d", w.Code)
	}
}

func TestStateHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/state", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "topologyVersion") {
		t.Fatalf("state body: %s", w.Body.String())
	}
}

func TestGcHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/gc", strings.NewReader(`{"enabled":true,"auto":false}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
}
