package daemon

import (
	"context"

	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter mirrors the realtime connection into the gRPC health service:
// SERVING while connected, NOT_SERVING otherwise.
type HealthReporter struct {
	server *health.Server
	bus    *bus.Bus
	state  func() status.State
	logger *zap.Logger
	done   chan struct{}
}

// NewHealthReporter creates a reporter that reads the state machine m.
func NewHealthReporter(m *status.Machine, b *bus.Bus, logger *zap.Logger) *HealthReporter {
	hr := &HealthReporter{
		server: health.NewServer(),
		bus:    b,
		state:  m.Current,
		logger: logger,
	}
	hr.set(m.Current())
	return hr
}

// Server returns the health service to register on a gRPC server.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Start follows state changes until ctx is done.
func (h *HealthReporter) Start(ctx context.Context) {
	ch, unsub := h.bus.Subscribe(status.EventStateChanged, 16)
	h.done = make(chan struct{})
	// A change between construction and Subscribe would otherwise be missed.
	h.set(h.state())

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if sc, ok := evt.Payload.(status.StatusChange); ok {
					h.set(sc.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop marks the service as shutting down and waits for the watcher to exit.
// The caller cancels the context passed to Start first.
func (h *HealthReporter) Stop() {
	h.server.Shutdown()
	if h.done != nil {
		<-h.done
	}
}

func (h *HealthReporter) set(s status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if s == status.Connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", serving)
	h.logger.Debug("health updated", zap.String("state", string(s)), zap.String("serving", serving.String()))
}
