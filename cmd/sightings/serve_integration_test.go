//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/sightings/internal/config"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/storage"
	"github.com/Veraticus/sightings/internal/transport"
)

const contributor = "+15557654321"

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// serviceHarness runs serve against an embedded NATS server and talks to it
// the way an SMS gateway would.
type serviceHarness struct {
	t       *testing.T
	cfg     config.Config
	conn    *nats.Conn
	replies chan *nats.Msg
	done    chan error
	cancel  context.CancelFunc
}

func startService(t *testing.T) *serviceHarness {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db")
	cfg.NATS.Embedded = true
	cfg.NATS.Port = freePort(t)
	cfg.Admin.Addr = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	cfg.Queue.Workers = 2
	cfg.Queue.Rate = 100
	cfg.Queue.Burst = 100
	require.NoError(t, cfg.Validate())

	store, err := storage.Open(cfg.Storage.Path)
	require.NoError(t, err)
	_, err = storage.NewRegistry(store).Import(context.Background(), []registry.Record{
		{Plate: "T123456C", VIN: "VCF1ZZZ0000000001", VehicleYear: "2023", BaseName: "UBER USA", Active: true},
		{Plate: "T123457C", VIN: "VCF1ZZZ0000000002", VehicleYear: "2023", Active: true},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	ctx, cancel := context.WithCancel(context.Background())
	h := &serviceHarness{
		t:       t,
		cfg:     cfg,
		replies: make(chan *nats.Msg, 64),
		done:    make(chan error, 1),
		cancel:  cancel,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { h.done <- serve(ctx, cfg, logger) }()

	url := fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port)
	require.Eventually(t, func() bool {
		conn, err := nats.Connect(url)
		if err != nil {
			return false
		}
		h.conn = conn
		return true
	}, 5*time.Second, 50*time.Millisecond)

	_, err = h.conn.ChanSubscribe(cfg.NATS.Prefix+".outbound", h.replies)
	require.NoError(t, err)

	t.Cleanup(h.stop)
	return h
}

func (h *serviceHarness) stop() {
	h.cancel()
	if h.conn != nil {
		h.conn.Close()
	}
	select {
	case err := <-h.done:
		assert.NoError(h.t, err)
	case <-time.After(10 * time.Second):
		h.t.Error("serve did not stop")
	}
}

// waitReady pings with HELP until the transport handler is subscribed, then
// drains any late replies to earlier pings.
func (h *serviceHarness) waitReady() {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		h.publish(transport.IncomingMessage{ID: fmt.Sprintf("ready-%d", i), Kind: transport.KindText, Text: "HELP"})
		select {
		case <-h.replies:
			time.Sleep(300 * time.Millisecond)
			for len(h.replies) > 0 {
				<-h.replies
			}
			return
		case <-time.After(250 * time.Millisecond):
		case <-deadline:
			h.t.Fatal("service never answered")
		}
	}
}

func (h *serviceHarness) publish(msg transport.IncomingMessage) {
	h.t.Helper()
	msg.From = contributor
	data, err := json.Marshal(msg)
	require.NoError(h.t, err)
	require.NoError(h.t, h.conn.Publish(h.cfg.NATS.Prefix+".inbound", data))
}

// exchange publishes msg and returns the reply text.
func (h *serviceHarness) exchange(msg transport.IncomingMessage) string {
	h.t.Helper()
	h.publish(msg)

	select {
	case raw := <-h.replies:
		var out transport.OutgoingMessage
		require.NoError(h.t, json.Unmarshal(raw.Data, &out))
		assert.Equal(h.t, contributor, out.To)
		return out.Text
	case <-time.After(5 * time.Second):
		h.t.Fatalf("no reply to %s", msg.ID)
		return ""
	}
}

func TestServeEndToEnd(t *testing.T) {
	h := startService(t)
	h.waitReady()

	reply := h.exchange(transport.IncomingMessage{ID: "m1", Kind: transport.KindPhoto, ImageRef: "mms://1"})
	assert.Contains(t, reply, "Where did you see this vehicle?")

	reply = h.exchange(transport.IncomingMessage{ID: "m2", Kind: transport.KindText, Text: "Times Square"})
	assert.Contains(t, reply, "license plate")

	reply = h.exchange(transport.IncomingMessage{ID: "m3", Kind: transport.KindText, Text: "T12345*C"})
	assert.Contains(t, reply, "1. T123456C")
	assert.Contains(t, reply, "2. T123457C")

	reply = h.exchange(transport.IncomingMessage{ID: "m4", Kind: transport.KindText, Text: "1"})
	assert.Contains(t, reply, "SKIP")

	reply = h.exchange(transport.IncomingMessage{ID: "m5", Kind: transport.KindText, Text: "skip"})
	assert.Contains(t, reply, "Sighting of T123456C saved")
	assert.Contains(t, reply, "the 1st sighting of this vehicle and #1 overall")

	resp, err := http.Get(fmt.Sprintf("http://%s/sightings?plate=T123456C", h.cfg.Admin.Addr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Sightings []storage.Sighting `json:"sightings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sightings, 1)
	assert.Equal(t, contributor, body.Sightings[0].Identity)
	assert.Equal(t, "mms://1", body.Sightings[0].ImageRef)
	require.NotNil(t, body.Sightings[0].Location)
	assert.Equal(t, "Times Square", body.Sightings[0].Location.Description)
}
