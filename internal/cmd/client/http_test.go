package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/kv/put", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key   string `json:"key"`
			Value []byte `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		store[req.Key] = req.Value
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/v1/kv/get", func(w http.ResponseWriter, r *http.Request) {
		v, ok := store[r.URL.Query().Get("key")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": v, "maybeStale": false})
	})
	mux.HandleFunc("/v1/kv/del", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"key"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		delete(store, req.Key)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientRoundTrip(t *testing.T) {
	srv := testServer(t)
	c := newHTTPClient(srv.URL)
	ctx := context.Background()

	if err := c.put(ctx, "user:1", []byte("ada")); err != nil {
		t.Fatalf("put: %v", err)
	}
	value, maybeStale, err := c.get(ctx, "user:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != "ada" || maybeStale {
		t.Fatalf("get: value=%q maybeStale=%v", value, maybeStale)
	}
	if err := c.del(ctx, "user:1"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, _, err := c.get(ctx, "user:1"); err == nil {
		t.Fatal("get after delete should fail")
	}
}

func TestKvCommandWiring(t *testing.T) {
	srv := testServer(t)
	base := func() string { return srv.URL }

	cmd := NewKvCommand(base)
	cmd.SetArgs([]string{"put", "--key", "a", "--value", "1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("kv put: %v", err)
	}

	cmd = NewKvCommand(base)
	cmd.SetArgs([]string{"get", "--key", "a"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("kv get: %v", err)
	}

	cmd = NewKvCommand(base)
	cmd.SetArgs([]string{"get"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("kv get without --key should fail")
	}
}
