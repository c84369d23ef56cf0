package kujo

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"nyiyui.ca/hato/shingo/interlock"
	"nyiyui.ca/hato/shingo/layout"
	"nyiyui.ca/hato/shingo/notify"
	"nyiyui.ca/hato/shingo/savestore"
)

type fakeSaves []savestore.Meta

func (f fakeSaves) List() ([]savestore.Meta, error) { return f, nil }

func testSnapshot(t *testing.T) interlock.Snapshot {
	t.Helper()
	y, err := layout.InitSingleLine()
	if err != nil {
		t.Fatal(err)
	}
	e, err := interlock.New(y, interlock.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Update(true)
	return e.Snapshot()
}

func waitLatest(t *testing.T, s *Server) interlock.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := s.Latest(); ok {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot never forwarded")
	return interlock.Snapshot{}
}

func TestServer(t *testing.T) {
	sender, m := notify.NewMultiplexerSender[interlock.Snapshot]("test")
	saveID := uuid.New()
	s := NewServer(m, Conf{
		AllowedOrigins: []string{"http://example.com"},
		Saves:          fakeSaves{{ID: saveID, Name: "before-lunch"}},
	})
	defer s.Close()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status.json")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before any snapshot: %d", resp.StatusCode)
	}

	want := testSnapshot(t)
	sender.SendSync(want)
	waitLatest(t, s)

	resp, err = http.Get(ts.URL + "/status.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got interlock.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want.Signals, got.Signals, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("signals (-want +got):\n%s", diff)
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "http://example.com")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if o := resp2.Header.Get("Access-Control-Allow-Origin"); o != "http://example.com" {
		t.Fatalf("allow origin %q", o)
	}
	body, err := io.ReadAll(resp2.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"A2", "before-lunch", saveID.String()} {
		if !strings.Contains(string(body), s) {
			t.Fatalf("page missing %q", s)
		}
	}

	resp3, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: %d", resp3.StatusCode)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	_, m := notify.NewMultiplexerSender[interlock.Snapshot]("test")
	s := NewServer(m, Conf{})
	if m.Len() != 1 {
		t.Fatalf("got %d subscribers", m.Len())
	}
	s.Close()
	if m.Len() != 0 {
		t.Fatalf("got %d subscribers after close", m.Len())
	}
}
