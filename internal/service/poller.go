package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campus-tools/canvaswatch/internal/dto"
	"github.com/campus-tools/canvaswatch/internal/observability"
)

const subscriberBufferSize = 1

// Poller drives the refresh loop: it resolves options, runs the snapshot
// builder, publishes the result, and fans each new snapshot out to NATS and
// any websocket subscribers. Cycles never overlap; a tick arriving while a
// cycle is in flight is skipped.
type Poller struct {
	service SnapshotService
	source  OptionsSource
	store   *SnapshotStore

	nats        *nats.Conn
	natsSubject string

	interval time.Duration
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu          sync.Mutex
	inFlight    bool
	subscribers map[chan dto.Snapshot]struct{}
}

// NewPoller constructs the refresh loop. natsConn may be nil.
func NewPoller(service SnapshotService, source OptionsSource, store *SnapshotStore, natsConn *nats.Conn, natsSubject string, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		service:     service,
		source:      source,
		store:       store,
		nats:        natsConn,
		natsSubject: natsSubject,
		interval:    interval,
		logger:      logger.With().Str("component", "poller").Logger(),
		tracer:      otel.Tracer("github.com/campus-tools/canvaswatch/internal/service/poller"),
		subscribers: make(map[chan dto.Snapshot]struct{}),
	}
}

// Start runs an immediate refresh and then ticks until the context is
// cancelled. Intended to run in its own goroutine.
func (p *Poller) Start(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil {
		p.logger.Error().Err(err).Msg("initial refresh failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Error().Err(err).Msg("refresh failed")
			}
		}
	}
}

// Refresh runs one cycle. On success the snapshot store is swapped and the
// snapshot fanned out; on failure the previous snapshot stays published and
// the store is marked degraded.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		p.logger.Warn().Msg("refresh already in flight, skipping tick")
		return nil
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	ctx, span := p.tracer.Start(ctx, "poller.refresh")
	defer span.End()

	start := time.Now()

	opts, err := p.source.Resolve(ctx)
	if err != nil {
		observability.PollCycles().WithLabelValues("failure").Inc()
		p.store.RecordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	snapshot, err := p.service.Build(ctx, opts)
	observability.PollCycleDuration().Observe(time.Since(start).Seconds())
	if err != nil {
		observability.PollCycles().WithLabelValues("failure").Inc()
		p.store.RecordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	observability.PollCycles().WithLabelValues("success").Inc()
	p.store.Publish(ctx, snapshot)
	p.fanOut(snapshot)
	return nil
}

// Subscribe registers a consumer of newly published snapshots. The returned
// cancel function must be called when the consumer goes away. Slow consumers
// miss intermediate snapshots rather than blocking the poll loop.
func (p *Poller) Subscribe() (<-chan dto.Snapshot, func()) {
	channel := make(chan dto.Snapshot, subscriberBufferSize)

	p.mu.Lock()
	p.subscribers[channel] = struct{}{}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[channel]; ok {
			delete(p.subscribers, channel)
			close(channel)
		}
		p.mu.Unlock()
	}
	return channel, cancel
}

func (p *Poller) fanOut(snapshot dto.Snapshot) {
	p.mu.Lock()
	for channel := range p.subscribers {
		select {
		case channel <- snapshot:
		default:
		}
	}
	p.mu.Unlock()

	if p.nats == nil || p.natsSubject == "" {
		return
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode snapshot for republication")
		return
	}
	if err := p.nats.Publish(p.natsSubject, payload); err != nil {
		p.logger.Warn().Err(err).Msg("failed to republish snapshot to nats")
	}
}
