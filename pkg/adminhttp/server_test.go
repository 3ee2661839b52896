package adminhttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dory-project/dory/pkg/backend"
	"github.com/dory-project/dory/pkg/device"
	"github.com/dory-project/dory/pkg/registry"
)

func newRegisteredDevice(t *testing.T, name string) *device.Device {
	t.Helper()
	mem, err := backend.NewMemory(4096 * 4)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cfg := device.DefaultConfig()
	cfg.Name = name
	cfg.BackingPath = "test"
	dev, err := device.New(cfg, mem)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	registry.Register(dev)
	t.Cleanup(func() {
		registry.Deregister(name)
		dev.Close()
	})
	return dev
}

func TestHandleGetAttrMode(t *testing.T) {
	newRegisteredDevice(t, "http1")
	srv := NewServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dory/http1/attr/mode")
	if err != nil {
		t.Fatalf("GET mode: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "running\n" {
		t.Errorf("mode = %q, want %q", body, "running\n")
	}
}

func TestHandlePutAttrStop(t *testing.T) {
	dev := newRegisteredDevice(t, "http2")
	srv := NewServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/dory/http2/attr/stop", strings.NewReader("1"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT stop: %v", err)
	}
	resp.Body.Close()

	if dev.Mode() != "stop\n" {
		t.Errorf("device not stopped after PUT /attr/stop")
	}
}

func TestHandlePutAttrTornMaskRejectsZero(t *testing.T) {
	newRegisteredDevice(t, "http3")
	srv := NewServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/dory/http3/attr/torn_mask", strings.NewReader("0"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT torn_mask: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandleGetAttrUnknownInstance(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dory/nope/attr/mode")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleStreamPushesOnStateChange(t *testing.T) {
	dev := newRegisteredDevice(t, "ws1")
	srv := NewServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/dory/ws1/attr/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var first StateEvent
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	if !strings.Contains(first.State, "mode: running") {
		t.Errorf("initial event = %q, want mode: running", first.State)
	}

	dev.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var second StateEvent
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read state-change event: %v", err)
	}
	if !strings.Contains(second.State, "mode: stop") {
		t.Errorf("event after Stop = %q, want mode: stop", second.State)
	}
}

func TestHandleList(t *testing.T) {
	newRegisteredDevice(t, "http4")
	srv := NewServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dory")
	if err != nil {
		t.Fatalf("GET /dory: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "http4") {
		t.Errorf("list response %q does not mention registered instance", body)
	}
}
