package dockerd

import (
	"context"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/kubermatic/cikit/metrics"
)

// HeartbeatSpec controls the standalone daemon's liveness probing.
type HeartbeatSpec struct {
	// Period is the interval between probes (default: 15s).
	Period time.Duration
	// Timeout bounds each individual probe (default: 5s).
	Timeout time.Duration
}

// HeartbeatWorker periodically pings the daemon in the background and hands
// each result to an optional callback, e.g. to push a liveness gauge.
type HeartbeatWorker struct {
	// Channel for stopping the probe.
	stopCh  chan struct{}
	spec    HeartbeatSpec
	log     *charmlog.Logger
	client  Client
	handler func(ready bool, latency time.Duration)
}

func NewHeartbeatWorker(logger *charmlog.Logger, client Client, spec HeartbeatSpec, handler func(ready bool, latency time.Duration)) *HeartbeatWorker {
	if spec.Period <= 0 {
		spec.Period = 15 * time.Second
	}
	if spec.Timeout <= 0 {
		spec.Timeout = 5 * time.Second
	}

	return &HeartbeatWorker{
		stopCh:  make(chan struct{}, 1), // Buffer so Stop() can be non-blocking.
		spec:    spec,
		log:     logger,
		client:  client,
		handler: handler,
	}
}

func (w *HeartbeatWorker) Start() {
	go w.run()
}

func (w *HeartbeatWorker) Stop() {
	select {
	case w.stopCh <- struct{}{}:
	default: // Non-blocking.
	}
}

func (w *HeartbeatWorker) run() {
	ticker := time.NewTicker(w.spec.Period)
	defer ticker.Stop()

	for {
		w.probe()
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (w *HeartbeatWorker) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), w.spec.Timeout)
	defer cancel()

	start := time.Now()
	_, err := w.client.Ping(ctx)
	latency := time.Since(start)

	ready := err == nil
	metrics.RecordDockerdPing(ready, latency)
	if !ready {
		w.log.Warn("docker daemon ping failed", "error", err)
	}
	if w.handler != nil {
		w.handler(ready, latency)
	}
}
