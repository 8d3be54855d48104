package collector

import (
	"context"
	"sync"
	"time"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/pool"
	"github.com/firewatch/dashboard/internal/service"
	"github.com/google/uuid"
)

// LocationLister lists the monitored locations
type LocationLister interface {
	List(ctx context.Context) ([]*models.Location, error)
}

// LocationEvaluator runs one evaluation of a location
type LocationEvaluator interface {
	Evaluate(ctx context.Context, locationID uuid.UUID) (*service.EvaluateResult, error)
}

// TelemetryPoller evaluates every location on a fixed period. Each
// location is one task on the worker pool, so a slow channel only holds
// one worker.
type TelemetryPoller struct {
	locations  LocationLister
	evaluator  LocationEvaluator
	workerPool *pool.WorkerPool
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewTelemetryPoller creates a poller; an interval of zero or less
// falls back to 30s.
func NewTelemetryPoller(
	locations LocationLister,
	evaluator LocationEvaluator,
	workerPool *pool.WorkerPool,
	interval time.Duration,
) *TelemetryPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &TelemetryPoller{
		locations:  locations,
		evaluator:  evaluator,
		workerPool: workerPool,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start begins polling
func (p *TelemetryPoller) Start(ctx context.Context) {
	logger.Info().
		Str("interval", p.interval.String()).
		Msg("Starting telemetry poller")

	p.wg.Add(1)
	go p.pollLoop(ctx)
}

func (p *TelemetryPoller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run immediately on start
	p.PollOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-p.stopCh:
			logger.Info().Msg("Telemetry poller stopped")
			return
		case <-ctx.Done():
			logger.Info().Msg("Telemetry poller context cancelled")
			return
		}
	}
}

// PollOnce submits one evaluation per location and returns how many
// were queued.
func (p *TelemetryPoller) PollOnce(ctx context.Context) int {
	locations, err := p.locations.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list locations")
		return 0
	}

	queued := 0
	for _, location := range locations {
		id, name := location.ID, location.Name
		err := p.workerPool.SubmitWithContext(ctx, func(ctx context.Context) error {
			return p.evaluate(ctx, id, name)
		})
		if err != nil {
			logger.Warn().Err(err).Str("location", name).Msg("Failed to submit location evaluation")
			continue
		}
		queued++
	}

	logger.Debug().Int("locations", len(locations)).Int("queued", queued).Msg("Telemetry poll submitted")
	return queued
}

func (p *TelemetryPoller) evaluate(ctx context.Context, id uuid.UUID, name string) error {
	result, err := p.evaluator.Evaluate(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("location", name).Msg("Location evaluation failed")
		return err
	}

	if result.Created || result.Updated {
		logger.Info().
			Str("location", name).
			Str("alert_id", result.Alert.ID.String()).
			Str("alert_type", string(result.Alert.AlertType)).
			Bool("created", result.Created).
			Msg("Location in alert")
	}
	return nil
}

// Stop ends polling and waits for the loop to exit
func (p *TelemetryPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
