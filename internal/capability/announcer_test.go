package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func startBus(t *testing.T) (*bus.Client, *nats.Conn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	observer, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("observer connect: %v", err)
	}
	t.Cleanup(observer.Close)
	return client, observer
}

func TestAnnouncerPublishesAnnouncementAndHeartbeats(t *testing.T) {
	client, observer := startBus(t)

	announcements, err := observer.SubscribeSync(SubjectAnnounce)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	heartbeats, err := observer.SubscribeSync(SubjectHeartbeatPrefix + "*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := observer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var ready atomic.Bool
	cfg := config.NodeConfig{ID: "stt-test", Role: "stt", HeartbeatInterval: 20}
	caps := []Capability{STTCapability(config.STTConfig{Mode: "worker", Model: "small", Device: "cpu"})}
	a, err := Start(context.Background(), cfg, caps, client, ready.Load, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	msg, err := announcements.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no announcement: %v", err)
	}
	var ann Announcement
	if err := json.Unmarshal(msg.Data, &ann); err != nil {
		t.Fatalf("decode announcement: %v", err)
	}
	if ann.NodeID != "stt-test" || len(ann.Capabilities) != 1 {
		t.Fatalf("unexpected announcement %+v", ann)
	}
	if c := ann.Capabilities[0]; c.Name != "stt" || c.Tier != "worker" || c.Attributes["model"] != "small" {
		t.Fatalf("unexpected capability %+v", c)
	}

	ready.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := heartbeats.NextMsg(time.Second)
		if err != nil {
			t.Fatalf("no heartbeat: %v", err)
		}
		if msg.Subject != SubjectHeartbeatPrefix+"stt-test" {
			t.Fatalf("unexpected subject %s", msg.Subject)
		}
		var hb Heartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			t.Fatalf("decode heartbeat: %v", err)
		}
		if hb.Ready {
			return
		}
	}
	t.Fatal("heartbeat never reported ready")
}
