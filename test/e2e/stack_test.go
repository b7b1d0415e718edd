package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/keyturner/internal/api"
	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/device/sim"
	"github.com/seantiz/keyturner/internal/dispatch"
	"github.com/seantiz/keyturner/internal/engine"
	"github.com/seantiz/keyturner/internal/store"
)

// stack is an in-process server over simulated locks.
type stack struct {
	ts    *httptest.Server
	radio *sim.Radio
	locks []*sim.Lock
}

func newStack(t *testing.T, latency time.Duration, addresses ...string) *stack {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	radio := sim.NewRadio(sim.WithLatency(latency))
	var locks []*sim.Lock
	for _, addr := range addresses {
		l := sim.NewLock(addr, "Lock "+addr[len(addr)-2:])
		l.SetPairingMode(true)
		radio.AddLock(l)
		locks = append(locks, l)
	}

	radios := device.NewRegistry()
	radios.Register("sim", radio)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	d := dispatch.New(dispatch.WithLogger(logger))
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	svc := engine.NewService(s, radio, d, device.Identity{AppID: 9, AppName: "e2e"}, engine.Options{
		ScanTimeout:   50 * time.Millisecond,
		RetryInterval: time.Millisecond,
	}, logger)
	srv := api.NewServer(":0", s, radios, svc, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		d.Stop()
		svc.Wait()
	})

	return &stack{ts: ts, radio: radio, locks: locks}
}

func (st *stack) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(st.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Errorf("POST %s: %v", path, err)
		return nil
	}
	return resp
}

// sseEvent represents a parsed SSE event with optional named type.
type sseEvent struct {
	Type string
	Data string
}

// readSSEEvents reads all SSE events from the response body.
func readSSEEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	scanner := bufio.NewScanner(resp.Body)
	var events []sseEvent
	var currentType string
	var currentData []string
	for scanner.Scan() {
		line := scanner.Text()
		if et, ok := strings.CutPrefix(line, "event: "); ok {
			currentType = et
		} else if data, ok := strings.CutPrefix(line, "data: "); ok {
			currentData = append(currentData, data)
		} else if line == "" && len(currentData) > 0 {
			events = append(events, sseEvent{Type: currentType, Data: strings.Join(currentData, "\n")})
			currentType = ""
			currentData = nil
		}
	}
	if len(currentData) > 0 {
		events = append(events, sseEvent{Type: currentType, Data: strings.Join(currentData, "\n")})
	}
	return events
}

func TestConcurrentRequestsNeverOverlapOnRadio(t *testing.T) {
	addrs := []string{"54:D2:72:00:00:01", "54:D2:72:00:00:02", "54:D2:72:00:00:03"}
	st := newStack(t, 5*time.Millisecond, addrs...)

	for _, addr := range addrs {
		if resp := st.post(t, "/v1/devices", `{"address":"`+addr+`"}`); resp != nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("pair %s: status %d", addr, resp.StatusCode)
			}
		}
	}

	var wg sync.WaitGroup
	for i := range 12 {
		addr := addrs[i%len(addrs)]
		action := []string{"lock", "unlock", "unlatch"}[i%3]
		wg.Go(func() {
			resp := st.post(t, "/v1/devices/"+addr+"/"+action, "")
			if resp == nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				t.Errorf("%s %s: status %d: %s", action, addr, resp.StatusCode, b)
			}
		})
	}
	wg.Go(func() {
		resp, err := http.Get(st.ts.URL + "/v1/devices")
		if err != nil {
			t.Errorf("GET /v1/devices: %v", err)
			return
		}
		resp.Body.Close()
	})
	wg.Wait()

	if n := st.radio.Overlaps(); n != 0 {
		t.Errorf("radio saw %d overlapping operations, want 0", n)
	}
}

func TestAsyncOperationStreamsEvents(t *testing.T) {
	const addr = "54:D2:72:00:00:01"
	st := newStack(t, 100*time.Millisecond, addr)

	resp := st.post(t, "/v1/devices", `{"address":"`+addr+`"}`)
	if resp == nil {
		t.FailNow()
	}
	resp.Body.Close()

	resp = st.post(t, "/v1/operations", `{"address":"`+addr+`","action":"unlatch"}`)
	if resp == nil {
		t.FailNow()
	}
	var op struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, st.ts.URL+"/v1/operations/"+op.ID+"/events", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()

	events := readSSEEvents(t, stream)
	if len(events) == 0 {
		t.Fatal("no events received")
	}
	last := events[len(events)-1]
	if last.Type != "done" || last.Data != "stream complete" {
		t.Errorf("last event = %+v, want done", last)
	}

	var sawCompleted bool
	for _, e := range events {
		if e.Data == "unlatch completed" {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Errorf("events = %+v, missing completion", events)
	}
	if got := st.locks[0].State().LockState; got != device.LockStateUnlatched {
		t.Errorf("lock state = %v, want unlatched", got)
	}
}
