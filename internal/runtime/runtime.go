package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/capability"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/loqalabs/loqa-stt/internal/stt"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
	started    chan struct{}
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
}

// Addr returns the bound HTTP address once Start is serving.
func (r *Runtime) Addr() string {
	select {
	case <-r.started:
		return r.listener.Addr().String()
	default:
		return ""
	}
}

// Started is closed once the HTTP listener is accepting connections.
func (r *Runtime) Started() <-chan struct{} {
	return r.started
}

// Start wires every component, serves HTTP until ctx is cancelled and then
// shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer r.shutdownTelemetry(shutdownTelemetry)

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return fmt.Errorf("failed to start embedded nats: %w", err)
	}
	defer embedded.Shutdown()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		if url := embedded.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	loader, err := stt.NewLoader(r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("failed to configure stt engine: %w", err)
	}
	handle := stt.NewModelHandle(loader, r.logger)
	defer func() {
		if err := handle.Close(); err != nil {
			r.logger.Warn("stt engine close error", slog.String("error", err.Error()))
		}
	}()

	svc := stt.NewService(ctx, handle, store, busClient, r.logger)
	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Close()

	if busClient != nil {
		nodeCfg := r.cfg.Node
		if nodeCfg.ID == "" {
			nodeCfg.ID = defaultNodeID()
		}
		announcer, err := capability.Start(ctx, nodeCfg,
			[]capability.Capability{capability.STTCapability(r.cfg.STT)},
			busClient, handle.Ready, r.logger)
		if err != nil {
			r.logger.Warn("capability announcement failed", slog.String("error", err.Error()))
		} else {
			defer announcer.Close()
		}
	}

	r.listener, err = net.Listen("tcp", r.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Addr(), err)
	}

	if r.cfg.STT.Preload {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if _, err := handle.Get(ctx); err != nil {
				r.logger.Warn("stt preload failed; will retry on first request", slog.String("error", err.Error()))
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		store.RunPruner(ctx, pruneInterval)
	}()

	api := NewAPI(svc, store, metricsHandler, r.cfg.HTTP.MaxBodyBytes, r.logger)
	r.httpServer = &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := r.httpServer.Serve(r.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	close(r.started)
	r.logger.Info("runtime started",
		slog.String("addr", r.listener.Addr().String()),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("model", r.cfg.STT.Model),
		slog.Bool("bus", r.cfg.Bus.Enabled),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		r.logger.Error("http server failed", slog.String("error", err.Error()))
		runErr = err
	}

	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	r.wg.Wait()
	return runErr
}

func (r *Runtime) shutdownTelemetry(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "loqa-stt"
	}
	return "loqa-stt-" + host
}
