package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
	"github.com/BrandonDHaskell/Portunus/relay/internal/archive/memory"
	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eeprom"
	"github.com/BrandonDHaskell/Portunus/relay/internal/eventlog"
	"github.com/BrandonDHaskell/Portunus/relay/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
	"github.com/BrandonDHaskell/Portunus/relay/internal/relay"
)

type testEnv struct {
	ts     *httptest.Server
	table  *authtable.Table
	events *eventlog.List
	mode   *mode.Controller
	store  *memory.Store
	modes  chan mode.State
}

var allowedTag = authtable.TagID{0x04, 0xA1, 0xB2, 0xC3}

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	table, err := authtable.New(eeprom.NewMemory(eeprom.Size))
	if err != nil {
		t.Fatalf("authtable.New: %v", err)
	}
	_ = table.AddUser(allowedTag, true)

	events := eventlog.New()
	ctl := mode.NewController(mode.Enabled)
	store := memory.New()
	log := zerolog.Nop()
	modes := make(chan mode.State, 8)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   log,
		Addr:     ":0",
		Relay:    relay.NewService(table, events, ctl, relay.LogActuator{Logger: log}, log),
		Table:    table,
		Events:   events,
		Mode:     ctl,
		Exporter: archive.NewExporter(events, store, time.Second, log),
		Archive:  store,

		OnModeChange: func(st mode.State) { modes <- st },
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, table: table, events: events, mode: ctl, store: store, modes: modes}
}

func do(t *testing.T, method, url, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ── Access ───────────────────────────────────────────────────────────────────

func TestAccessRequest_Granted(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, http.MethodPost, env.ts.URL+"/v1/access_request", "application/json",
		[]byte(`{"tag_id":"04:a1:b2:c3"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var d relay.Decision
	decode(t, resp, &d)
	if !d.Granted || !d.Known || d.Reason != relay.ReasonAuthorized {
		t.Errorf("unexpected decision %+v", d)
	}
	if d.TagID != "04A1B2C3" {
		t.Errorf("expected tag_id=04A1B2C3, got %q", d.TagID)
	}
	if env.events.Size() != 1 {
		t.Errorf("expected 1 logged event, got %d", env.events.Size())
	}
}

func TestAccessRequest_BadInput(t *testing.T) {
	env := newTestServer(t)

	cases := []struct {
		body string
		code string
	}{
		{`{"tag_id":"nope"}`, "invalid_tag_id"},
		{`{"tag":"04A1B2C3"}`, "bad_json"},
		{`not json`, "bad_json"},
	}
	for _, c := range cases {
		resp := do(t, http.MethodPost, env.ts.URL+"/v1/access_request", "application/json", []byte(c.body))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", c.body, resp.StatusCode)
			continue
		}
		var e struct {
			Error string `json:"error"`
		}
		decode(t, resp, &e)
		if e.Error != c.code {
			t.Errorf("%s: expected error=%s, got %s", c.body, c.code, e.Error)
		}
	}
}

func TestAccessRequest_Protobuf(t *testing.T) {
	env := newTestServer(t)

	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, "04A1B2C3")

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/access_request", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("expected protobuf response, got %q", ct)
	}

	raw, _ := io.ReadAll(resp.Body)
	granted := false
	for len(raw) > 0 {
		num, typ, n := protowire.ConsumeTag(raw)
		if n < 0 {
			t.Fatalf("bad tag in response")
		}
		raw = raw[n:]
		if num == 3 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(raw)
			granted = protowire.DecodeBool(v)
			raw = raw[n:]
			continue
		}
		raw = raw[protowire.ConsumeFieldValue(num, typ, raw):]
	}
	if !granted {
		t.Error("expected granted=true in protobuf response")
	}
}

// ── Events ───────────────────────────────────────────────────────────────────

func TestDrainEvents_ArchivesAndReturnsBatch(t *testing.T) {
	env := newTestServer(t)
	_ = env.events.Add(eventlog.Confirm, allowedTag)
	_ = env.events.Add(eventlog.Unknown, [4]byte{9, 9, 9, 9})

	resp := do(t, http.MethodGet, env.ts.URL+"/v1/events", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		BatchID  string `json:"batch_id"`
		Archived bool   `json:"archived"`
		Events   []struct {
			Type  string `json:"type"`
			TagID string `json:"tag_id"`
		} `json:"events"`
	}
	decode(t, resp, &out)
	if !out.Archived || out.BatchID == "" {
		t.Errorf("expected archived batch with id, got %+v", out)
	}
	if len(out.Events) != 2 || out.Events[0].Type != "confirm" || out.Events[1].TagID != "09090909" {
		t.Errorf("unexpected events %+v", out.Events)
	}
	if env.events.Size() != 0 {
		t.Errorf("expected drained log, got %d", env.events.Size())
	}

	resp = do(t, http.MethodGet, env.ts.URL+"/v1/archive?limit=1", "", nil)
	var arch struct {
		Events []struct {
			BatchID string `json:"batch_id"`
		} `json:"events"`
	}
	decode(t, resp, &arch)
	if len(arch.Events) != 1 || arch.Events[0].BatchID != out.BatchID {
		t.Errorf("expected 1 archived event from batch %s, got %+v", out.BatchID, arch.Events)
	}
}

func TestArchive_InvalidLimit(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, http.MethodGet, env.ts.URL+"/v1/archive?limit=-3", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ── Table ────────────────────────────────────────────────────────────────────

func TestTable_SetListClear(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, http.MethodPut, env.ts.URL+"/v1/table/DEADBEEF", "application/json",
		[]byte(`{"authorized":false}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var set struct {
		Result string `json:"result"`
	}
	decode(t, resp, &set)
	if set.Result != "new_user" {
		t.Errorf("expected new_user, got %s", set.Result)
	}

	resp = do(t, http.MethodGet, env.ts.URL+"/v1/table", "", nil)
	var list struct {
		Users   int `json:"users"`
		Entries []struct {
			TagID      string `json:"tag_id"`
			Authorized bool   `json:"authorized"`
		} `json:"entries"`
	}
	decode(t, resp, &list)
	if list.Users != 2 || list.Entries[1].TagID != "DEADBEEF" || list.Entries[1].Authorized {
		t.Errorf("unexpected table %+v", list)
	}

	resp = do(t, http.MethodDelete, env.ts.URL+"/v1/table", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if n, _ := env.table.NumUsers(); n != 0 {
		t.Errorf("expected empty table, got %d", n)
	}
}

func TestTable_SetRequiresAuthorized(t *testing.T) {
	env := newTestServer(t)
	resp := do(t, http.MethodPut, env.ts.URL+"/v1/table/DEADBEEF", "application/json", []byte(`{}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ── Mode / status / metrics ──────────────────────────────────────────────────

func TestMode_SetAndGet(t *testing.T) {
	env := newTestServer(t)

	resp := do(t, http.MethodPut, env.ts.URL+"/v1/mode", "application/json", []byte(`{"mode":"disabled"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if env.mode.State() != mode.Disabled {
		t.Errorf("expected disabled, got %s", env.mode.State())
	}
	select {
	case st := <-env.modes:
		if st != mode.Disabled {
			t.Errorf("expected hook to see disabled, got %s", st)
		}
	default:
		t.Error("expected mode change hook to run")
	}

	resp = do(t, http.MethodGet, env.ts.URL+"/v1/mode", "", nil)
	var got map[string]string
	decode(t, resp, &got)
	if got["mode"] != "disabled" {
		t.Errorf("expected mode=disabled, got %v", got)
	}

	resp = do(t, http.MethodPut, env.ts.URL+"/v1/mode", "application/json", []byte(`{"mode":"sideways"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	env := newTestServer(t)
	_ = env.events.Add(eventlog.Attempt, allowedTag)

	resp := do(t, http.MethodGet, env.ts.URL+"/v1/status", "", nil)
	var st struct {
		Mode          string `json:"mode"`
		Users         int    `json:"users"`
		Capacity      int    `json:"capacity"`
		PendingEvents int    `json:"pending_events"`
	}
	decode(t, resp, &st)
	if st.Mode != "enabled" || st.Users != 1 || st.Capacity != authtable.MaxUsers || st.PendingEvents != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	_ = do(t, http.MethodGet, env.ts.URL+"/v1/mode", "", nil)

	resp := do(t, http.MethodGet, env.ts.URL+"/metrics", "", nil)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "portunus_relay_http_requests_total") {
		t.Error("expected http request counter in /metrics output")
	}
}

func TestParseTransition(t *testing.T) {
	cases := map[string]mode.Transition{
		"auto":     mode.ToAuto,
		"Enabled":  mode.ToEnabled,
		"disable":  mode.ToDisabled,
		" enable ": mode.ToEnabled,
	}
	for in, want := range cases {
		got, err := httpapi.ParseTransition(in)
		if err != nil || got != want {
			t.Errorf("ParseTransition(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := httpapi.ParseTransition("off"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
