package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher publishes one-off gauge samples to a Prometheus Pushgateway. CI
// steps use it to leave metrics behind (queue depths, step durations,
// image sizes) without running their own scrape target.
type Pusher struct {
	log      *log.Logger
	gateway  string
	job      string
	instance string
	client   *http.Client
}

// NewPusher creates a Pusher publishing under the given job and instance
// grouping. An empty instance omits the grouping label.
func NewPusher(logger *log.Logger, gateway, job, instance string) *Pusher {
	return &Pusher{
		log:      logger,
		gateway:  gateway,
		job:      job,
		instance: instance,
		client:   http.DefaultClient,
	}
}

// Push publishes a single gauge sample. Metrics pushed earlier under the
// same grouping but a different name stay in place.
func (p *Pusher) Push(ctx context.Context, name string, value float64, labels map[string]string) error {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        fmt.Sprintf("Metric %s pushed by cikit", name),
		ConstLabels: labels,
	})
	g.Set(value)

	if err := p.pusher().Collector(g).AddContext(ctx); err != nil {
		RecordErrorDetails("failed to push metric", err)
		return fmt.Errorf("failed to push metric %s: %w", name, err)
	}
	p.log.Info("metric pushed", "metric", name, "value", value, "job", p.job, "instance", p.instance)
	return nil
}

// Delete removes every metric of the pusher's grouping from the gateway.
// Registered as an exit trap so transient CI metrics do not linger after
// the job is gone.
func (p *Pusher) Delete() error {
	if err := p.pusher().Delete(); err != nil {
		return fmt.Errorf("failed to delete pushed metrics: %w", err)
	}
	p.log.Info("pushed metrics deleted", "job", p.job, "instance", p.instance)
	return nil
}

func (p *Pusher) pusher() *push.Pusher {
	pp := push.New(p.gateway, p.job).Client(p.client)
	if p.instance != "" {
		pp = pp.Grouping("instance", p.instance)
	}
	return pp
}
