package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce        = "ctrl.node.announce"
	SubjectHeartbeatPrefix = "ctrl.node.heartbeat."
)

// Capability is one service a node offers, such as speech recognition.
type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Announcement is published on SubjectAnnounce when a node starts.
type Announcement struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Heartbeat is published periodically on SubjectHeartbeatPrefix plus the node ID.
type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer advertises this node's transcription capability on the bus and
// keeps a heartbeat carrying model readiness.
type Announcer struct {
	cfg    config.NodeConfig
	caps   []Capability
	bus    *bus.Client
	ready  func() bool
	log    *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reg    metric.Registration
}

// STTCapability describes the configured recognition engine.
func STTCapability(cfg config.STTConfig) Capability {
	return Capability{
		Name: "stt",
		Tier: cfg.Mode,
		Attributes: map[string]string{
			"model":    cfg.Model,
			"device":   cfg.Device,
			"language": "en",
		},
	}
}

// Start announces the node and begins heartbeating. ready reports whether the
// model is loaded.
func Start(ctx context.Context, cfg config.NodeConfig, caps []Capability, busClient *bus.Client, ready func() bool, log *slog.Logger) (*Announcer, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{
		cfg:    cfg,
		caps:   caps,
		bus:    busClient,
		ready:  ready,
		log:    log.With(slog.String("component", "capability-announcer")),
		cancel: cancel,
	}

	if err := a.announce(); err != nil {
		cancel()
		return nil, fmt.Errorf("announce node: %w", err)
	}
	a.initMetrics()

	a.wg.Add(1)
	go a.runHeartbeat(ctx)
	return a, nil
}

func (a *Announcer) Close() {
	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
	if a.reg != nil {
		_ = a.reg.Unregister()
	}
}

func (a *Announcer) announce() error {
	return a.bus.PublishJSON(SubjectAnnounce, Announcement{
		NodeID:       a.cfg.ID,
		Role:         a.cfg.Role,
		Capabilities: a.caps,
		Timestamp:    time.Now().UTC(),
	})
}

func (a *Announcer) runHeartbeat(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Duration(a.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.publishHeartbeat(); err != nil {
				a.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Announcer) publishHeartbeat() error {
	return a.bus.PublishJSON(SubjectHeartbeatPrefix+a.cfg.ID, Heartbeat{
		NodeID:    a.cfg.ID,
		Ready:     a.ready(),
		Timestamp: time.Now().UTC(),
	})
}

func (a *Announcer) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/loqa-stt/capability")
	gauge, err := meter.Int64ObservableGauge("loqa_stt.model.ready",
		metric.WithDescription("1 when the recognition model is loaded"))
	if err != nil {
		a.log.Warn("failed to create readiness gauge", slog.String("error", err.Error()))
		return
	}
	a.reg, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var v int64
		if a.ready() {
			v = 1
		}
		obs.ObserveInt64(gauge, v)
		return nil
	}, gauge)
	if err != nil {
		a.log.Warn("failed to register readiness callback", slog.String("error", err.Error()))
	}
}
