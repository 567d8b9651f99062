package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpClient wraps the Strata HTTP API for the CLI commands and REPL.
type httpClient struct {
	base string
	c    *http.Client
}

func newHTTPClient(base string) *httpClient {
	return &httpClient{
		base: strings.TrimRight(base, "/"),
		c:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *httpClient) put(ctx context.Context, key string, value []byte) error {
	body, _ := json.Marshal(map[string]any{"key": key, "value": value})
	return h.post(ctx, "/v1/kv/put", body)
}

func (h *httpClient) get(ctx context.Context, key string) ([]byte, bool, error) {
	u := h.base + "/v1/kv/get?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := h.c.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, fmt.Errorf("key %q not found", key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, statusError(resp)
	}
	var rep struct {
		Value      []byte `json:"value"`
		MaybeStale bool   `json:"maybeStale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, false, err
	}
	return rep.Value, rep.MaybeStale, nil
}

func (h *httpClient) del(ctx context.Context, key string) error {
	body, _ := json.Marshal(map[string]string{"key": key})
	return h.post(ctx, "/v1/kv/del", body)
}

func (h *httpClient) state(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/v1/admin/state", nil)
	if err != nil {
		return "", err
	}
	resp, err := h.c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw), nil
	}
	return buf.String(), nil
}

// fileRow is the slice of the state report the `admin files` view needs.
type fileRow struct {
	File         uint64 `json:"file"`
	Status       string `json:"status"`
	Size         uint64 `json:"size"`
	Entries      int    `json:"entries"`
	GarbageBytes uint64 `json:"garbageBytes"`
	Readers      int    `json:"readers"`
	MovePending  int    `json:"movePending"`
}

type zoneFiles struct {
	Zone     int       `json:"zone"`
	Dir      string    `json:"dir"`
	LiveFile uint64    `json:"liveFile"`
	Files    []fileRow `json:"files"`
}

func (h *httpClient) files(ctx context.Context) ([]zoneFiles, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/v1/admin/state", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var rep struct {
		Zones []zoneFiles `json:"zones"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, err
	}
	return rep.Zones, nil
}

func (h *httpClient) clearCache(ctx context.Context) error {
	return h.post(ctx, "/v1/admin/clear-cache", []byte("{}"))
}

func (h *httpClient) setGc(ctx context.Context, enabled, auto bool) error {
	body, _ := json.Marshal(map[string]bool{"enabled": enabled, "auto": auto})
	return h.post(ctx, "/v1/admin/gc", body)
}

func (h *httpClient) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response) error {
	var rep struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&rep) == nil && rep.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, rep.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
