package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/peer"
)

// fakePeer is a minimal in-memory peer.Peer used to drive the gateway's
// HTTP handlers without a real cluster.
type fakePeer struct {
	address string
	store   map[string]string
	fail    bool
}

func (p *fakePeer) Address() string { return p.address }
func (p *fakePeer) Get(ctx context.Context, group, key string) (byteview.ByteView, bool) {
	v, ok := p.store[key]
	if !ok {
		return byteview.ByteView{}, false
	}
	return byteview.NewFromString(v), true
}
func (p *fakePeer) Set(ctx context.Context, group, key string, value byteview.ByteView) bool {
	return !p.fail
}
func (p *fakePeer) Delete(ctx context.Context, group, key string) bool { return !p.fail }
func (p *fakePeer) Invalidate(ctx context.Context, group, key string) bool { return !p.fail }
func (p *fakePeer) SetFromGateway(ctx context.Context, group, key string, value byteview.ByteView) bool {
	if p.fail {
		return false
	}
	p.store[key] = value.String()
	return true
}
func (p *fakePeer) DeleteFromGateway(ctx context.Context, group, key string) bool {
	if p.fail {
		return false
	}
	delete(p.store, key)
	return true
}
func (p *fakePeer) Close() error { return nil }

var _ peer.Peer = (*fakePeer)(nil)

type fakePicker struct {
	peer *fakePeer
	none bool
}

func (f *fakePicker) PickPeer(key string) (peer.Peer, bool) {
	if f.none || f.peer == nil {
		return nil, false
	}
	return f.peer, true
}

func (f *fakePicker) AllPeers() []peer.Peer {
	if f.peer == nil {
		return nil
	}
	return []peer.Peer{f.peer}
}

func startTestGateway(t *testing.T, picker PeerPicker) string {
	t.Helper()
	srv := New("127.0.0.1:0", picker)
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return "http://" + srv.Addr()
}

func doRequest(t *testing.T, method, url string, body io.Reader, contentType string) (int, map[string]string) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, payload
}

func TestHealthzReflectsPeerAvailability(t *testing.T) {
	base := startTestGateway(t, &fakePicker{none: true})
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz with no peers = %d, want 503", resp.StatusCode)
	}

	base = startTestGateway(t, &fakePicker{peer: &fakePeer{address: "a:1", store: map[string]string{}}})
	resp, err = http.Get(base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz with a known peer = %d, want 200", resp.StatusCode)
	}
}

func TestGetReturns503WhenNoPeerKnown(t *testing.T) {
	base := startTestGateway(t, &fakePicker{none: true})
	status, _ := doRequest(t, http.MethodGet, base+"/api/cache/g/k", nil, "")
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
}

func TestGetReturns404ForAbsentKey(t *testing.T) {
	p := &fakePeer{address: "a:1", store: map[string]string{}}
	base := startTestGateway(t, &fakePicker{peer: p})

	status, payload := doRequest(t, http.MethodGet, base+"/api/cache/g/missing", nil, "")
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404, payload=%v", status, payload)
	}
}

func TestSetThenGetRoundTripsThroughJSONBody(t *testing.T) {
	p := &fakePeer{address: "a:1", store: map[string]string{}}
	base := startTestGateway(t, &fakePicker{peer: p})

	body, _ := json.Marshal(map[string]string{"value": "hello"})
	status, payload := doRequest(t, http.MethodPost, base+"/api/cache/g/k", bytes.NewReader(body), "application/json")
	if status != http.StatusOK || payload["value"] != "hello" {
		t.Fatalf("set = %d %v, want 200 value=hello", status, payload)
	}

	status, payload = doRequest(t, http.MethodGet, base+"/api/cache/g/k", nil, "")
	if status != http.StatusOK || payload["value"] != "hello" {
		t.Fatalf("get = %d %v, want 200 value=hello", status, payload)
	}
}

func TestSetAcceptsRawBodyWhenNotJSON(t *testing.T) {
	p := &fakePeer{address: "a:1", store: map[string]string{}}
	base := startTestGateway(t, &fakePicker{peer: p})

	status, payload := doRequest(t, http.MethodPost, base+"/api/cache/g/k", bytes.NewReader([]byte("raw-value")), "text/plain")
	if status != http.StatusOK || payload["value"] != "raw-value" {
		t.Fatalf("set raw = %d %v, want 200 value=raw-value", status, payload)
	}
}

func TestSetRejectsEmptyValueWith400(t *testing.T) {
	p := &fakePeer{address: "a:1", store: map[string]string{}}
	base := startTestGateway(t, &fakePicker{peer: p})

	status, _ := doRequest(t, http.MethodPost, base+"/api/cache/g/k", bytes.NewReader(nil), "text/plain")
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func TestSetReturns500OnRemoteFailure(t *testing.T) {
	p := &fakePeer{address: "a:1", store: map[string]string{}, fail: true}
	base := startTestGateway(t, &fakePicker{peer: p})

	status, _ := doRequest(t, http.MethodPost, base+"/api/cache/g/k", bytes.NewReader([]byte("v")), "text/plain")
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
}

func TestDeleteRoundTrip(t *testing.T) {
	p := &fakePeer{address: "a:1", store: map[string]string{"k": "v"}}
	base := startTestGateway(t, &fakePicker{peer: p})

	status, payload := doRequest(t, http.MethodDelete, base+"/api/cache/g/k", nil, "")
	if status != http.StatusOK || payload["deleted"] != "true" {
		t.Fatalf("delete = %d %v, want 200 deleted=true", status, payload)
	}
	if _, ok := p.store["k"]; ok {
		t.Error("expected key to be removed from the peer's store")
	}
}
