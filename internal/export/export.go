package export

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

// Exporter ships one reading to an external telemetry sink.
type Exporter interface {
	Name() string
	Export(ctx context.Context, r model.SensorReading) error
	Close()
}

// Breaker guards an exporter so a dead sink is skipped instead of retried on
// every reading.
type Breaker struct {
	inner Exporter
	cb    *gobreaker.CircuitBreaker
}

func WithBreaker(e Exporter, fails uint32, open time.Duration) *Breaker {
	return &Breaker{
		inner: e,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     e.Name(),
			Interval: time.Minute,
			Timeout:  open,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("exporter", name).Str("from", from.String()).Str("to", to.String()).Msg("Exporter circuit breaker changed state")
			},
		}),
	}
}

func (b *Breaker) Name() string { return b.inner.Name() }

func (b *Breaker) Export(ctx context.Context, r model.SensorReading) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Export(ctx, r)
	})
	return err
}

func (b *Breaker) Close() { b.inner.Close() }

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Dispatcher runs exports off the reconciliation path.
type Dispatcher struct {
	exporters []Exporter
	queue     chan model.SensorReading
	timeout   time.Duration
}

func NewDispatcher(exporters ...Exporter) *Dispatcher {
	return &Dispatcher{
		exporters: exporters,
		queue:     make(chan model.SensorReading, 128),
		timeout:   10 * time.Second,
	}
}

// Submit queues r for export. Readings are dropped when the queue is full.
func (d *Dispatcher) Submit(r model.SensorReading) {
	if d == nil || len(d.exporters) == 0 {
		return
	}
	select {
	case d.queue <- r:
	default:
		log.Warn().Msg("Export queue full, dropping reading")
	}
}

// Run drains the queue until ctx is cancelled, then closes every exporter.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		for _, e := range d.exporters {
			e.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-d.queue:
			d.exportAll(ctx, r)
		}
	}
}

func (d *Dispatcher) exportAll(ctx context.Context, r model.SensorReading) {
	for _, e := range d.exporters {
		exportCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := e.Export(exportCtx, r)
		cancel()
		if err != nil {
			metrics.ExportFailures.WithLabelValues(e.Name()).Inc()
			log.Warn().Err(err).Str("exporter", e.Name()).Int64("reading_id", r.ID).Msg("Telemetry export failed")
		}
	}
}
