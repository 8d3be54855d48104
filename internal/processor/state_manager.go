package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/firewatch/dashboard/internal/lock"
	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/repository"
	"github.com/google/uuid"
)

// Outcome is what Process did to the alert store
type Outcome string

const (
	OutcomeNone    Outcome = "none"
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
)

// DefaultWindow is how far back an open alert is reused for a location
const DefaultWindow = time.Hour

// LifecycleManager keeps at most one open alert per location inside the
// window: a detection either refreshes the open alert or creates a new one.
type LifecycleManager struct {
	alertRepo repository.AlertRepo
	eventBus  *EventBus
	locker    lock.Locker
	window    time.Duration
	now       func() time.Time
}

// LifecycleOption customizes a LifecycleManager
type LifecycleOption func(*LifecycleManager)

// WithWindow sets the lookback window
func WithWindow(window time.Duration) LifecycleOption {
	return func(m *LifecycleManager) {
		if window > 0 {
			m.window = window
		}
	}
}

// WithLocker replaces the in-process per-location lock
func WithLocker(locker lock.Locker) LifecycleOption {
	return func(m *LifecycleManager) {
		if locker != nil {
			m.locker = locker
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) LifecycleOption {
	return func(m *LifecycleManager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewLifecycleManager(alertRepo repository.AlertRepo, eventBus *EventBus, opts ...LifecycleOption) *LifecycleManager {
	m := &LifecycleManager{
		alertRepo: alertRepo,
		eventBus:  eventBus,
		locker:    lock.NewKeyedMutex(),
		window:    DefaultWindow,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process applies one classification to the location's alert history.
// A nil classification does nothing and never touches the store.
func (m *LifecycleManager) Process(ctx context.Context, locationID uuid.UUID, c *models.Classification, reading *models.SensorReading) (Outcome, *models.AlertRecord, error) {
	if c == nil {
		return OutcomeNone, nil, nil
	}

	unlock, err := m.locker.Lock(ctx, locationID.String())
	if err != nil {
		return OutcomeNone, nil, fmt.Errorf("failed to lock location %s: %w", locationID, err)
	}
	defer unlock()

	now := m.now()
	existing, err := m.alertRepo.FindLatestOpenSince(ctx, locationID, now.Add(-m.window))
	if err != nil {
		logger.Error().Err(err).Str("location_id", locationID.String()).Msg("Failed to look up open alert")
		return OutcomeNone, nil, fmt.Errorf("failed to look up open alert: %w", err)
	}

	if existing != nil {
		existing.Redetect(*c, reading, now)
		if err := m.alertRepo.Update(ctx, existing); err != nil {
			logger.Error().Err(err).Str("alert_id", existing.ID.String()).Msg("Failed to update alert")
			return OutcomeNone, nil, fmt.Errorf("failed to update alert: %w", err)
		}
		m.publish(ChangeUpdate, existing, now)
		metrics.IncLifecycleOutcome(string(OutcomeUpdated))

		logger.Info().
			Str("alert_id", existing.ID.String()).
			Str("location_id", locationID.String()).
			Str("alert_type", string(c.Type)).
			Msg("Alert refreshed")
		return OutcomeUpdated, existing, nil
	}

	alert := models.NewAlertRecord(locationID, *c, reading, now)
	if err := m.alertRepo.Create(ctx, alert); err != nil {
		logger.Error().Err(err).Str("location_id", locationID.String()).Msg("Failed to create alert")
		return OutcomeNone, nil, fmt.Errorf("failed to create alert: %w", err)
	}
	m.publish(ChangeInsert, alert, now)
	metrics.IncLifecycleOutcome(string(OutcomeCreated))

	logger.Info().
		Str("alert_id", alert.ID.String()).
		Str("location_id", locationID.String()).
		Str("alert_type", string(c.Type)).
		Str("severity", string(c.Severity)).
		Msg("Alert created and published")
	return OutcomeCreated, alert, nil
}

// Publish sends a change for a record written outside Process
func (m *LifecycleManager) Publish(changeType ChangeType, alert *models.AlertRecord) {
	m.publish(changeType, alert, m.now())
}

func (m *LifecycleManager) publish(changeType ChangeType, alert *models.AlertRecord, at time.Time) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(&ChangeEvent{
		Type:      changeType,
		Record:    alert.Clone(),
		Timestamp: at,
	})
}

// Locker exposes the per-location lock so status changes can share it
func (m *LifecycleManager) Locker() lock.Locker {
	return m.locker
}

func (m *LifecycleManager) Now() time.Time {
	return m.now()
}
