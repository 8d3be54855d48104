package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/firewatch/dashboard/internal/repository"
	"github.com/firewatch/dashboard/internal/telemetry"
	"github.com/google/uuid"
)

var (
	ErrLocationNotFound  = errors.New("location not found")
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidStatus     = errors.New("invalid alert status")
	ErrInvalidTransition = errors.New("alert status transition not allowed")
	ErrUnauthorized      = errors.New("authenticated caller required")
)

// NoSensorDataMessage is returned when telemetry has nothing to evaluate
const NoSensorDataMessage = "No sensor data available"

// SeverityCounts holds open alert counts for each severity level
type SeverityCounts struct {
	Critical int64 `json:"critical"`
	High     int64 `json:"high"`
	Medium   int64 `json:"medium"`
	Low      int64 `json:"low"`
}

// EvaluateResult is the answer to an evaluate request
type EvaluateResult struct {
	Success bool                `json:"success"`
	Alert   *models.AlertRecord `json:"alert,omitempty"`
	Created bool                `json:"created,omitempty"`
	Updated bool                `json:"updated,omitempty"`
	Message string              `json:"message,omitempty"`
}

// Location status values shown on the map
const (
	LocationStatusAlert  = "alert"
	LocationStatusNormal = "normal"
)

// LocationStatus is a location with its current open alert, if any
type LocationStatus struct {
	*models.Location
	Status string              `json:"status"`
	Alert  *models.AlertRecord `json:"alert,omitempty"`
}

// TelemetryFetcher reads the latest sensor values of a channel
type TelemetryFetcher interface {
	Latest(ctx context.Context, channel telemetry.Channel) (*models.SensorReading, error)
}

// AlertService handles alert business logic
type AlertService interface {
	Evaluate(ctx context.Context, locationID uuid.UUID) (*EvaluateResult, error)
	LatestReading(ctx context.Context, channel telemetry.Channel) (*models.SensorReading, error)
	UpdateStatus(ctx context.Context, alertID uuid.UUID, status models.AlertStatus, caller string) (*models.AlertRecord, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*models.AlertRecord, error)
	GetRecentAlerts(ctx context.Context, limit int) ([]*models.AlertRecord, error)
	GetOpenAlerts(ctx context.Context) ([]*models.AlertRecord, error)
	GetTotalAlertsCount(ctx context.Context) (int64, error)
	GetActiveAlertsCount(ctx context.Context) (int64, error)
	GetSeverityCounts(ctx context.Context) (*SeverityCounts, error)
	ListLocations(ctx context.Context) ([]*LocationStatus, error)
}

type alertService struct {
	alerts    repository.AlertRepo
	locations repository.LocationRepo
	fetcher   TelemetryFetcher
	engine    *processor.EvaluatorEngine
}

// NewAlertService creates a new alert service
func NewAlertService(alerts repository.AlertRepo, locations repository.LocationRepo, fetcher TelemetryFetcher, engine *processor.EvaluatorEngine) AlertService {
	return &alertService{
		alerts:    alerts,
		locations: locations,
		fetcher:   fetcher,
		engine:    engine,
	}
}

func (s *alertService) Evaluate(ctx context.Context, locationID uuid.UUID) (*EvaluateResult, error) {
	location, err := s.locations.GetByID(ctx, locationID)
	if errors.Is(err, repository.ErrLocationNotFound) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}

	reading, err := s.LatestReading(ctx, channelOf(location))
	if err != nil {
		return &EvaluateResult{Success: true, Message: NoSensorDataMessage}, nil
	}
	reading.LocationID = location.ID

	result, err := s.engine.Evaluate(ctx, location.ID, reading)
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case processor.OutcomeCreated:
		return &EvaluateResult{Success: true, Alert: result.Alert, Created: true}, nil
	case processor.OutcomeUpdated:
		return &EvaluateResult{Success: true, Alert: result.Alert, Updated: true}, nil
	default:
		return &EvaluateResult{Success: true, Message: "Sensors nominal"}, nil
	}
}

// LatestReading fetches telemetry. Failures are logged and counted here;
// callers treat them as nothing to evaluate.
func (s *alertService) LatestReading(ctx context.Context, channel telemetry.Channel) (*models.SensorReading, error) {
	reading, err := s.fetcher.Latest(ctx, channel)
	if err != nil {
		metrics.IncTelemetryFailure()
		logger.Debug().Err(err).Str("channel_id", channel.ChannelID).Msg("No telemetry for channel")
		return nil, err
	}
	return reading, nil
}

func (s *alertService) UpdateStatus(ctx context.Context, alertID uuid.UUID, status models.AlertStatus, caller string) (*models.AlertRecord, error) {
	if caller == "" {
		return nil, ErrUnauthorized
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	alert, err := s.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	manager := s.engine.GetStateManager()
	unlock, err := manager.Locker().Lock(ctx, alert.LocationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock location: %w", err)
	}
	defer unlock()

	// re-read under the lock, an evaluation may have refreshed it
	alert, err = s.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.Status.IsClosed() {
		return nil, fmt.Errorf("%w: alert is already %s", ErrInvalidTransition, alert.Status)
	}
	if alert.Status == status {
		return alert, nil
	}

	now := manager.Now()
	if status.IsClosed() {
		alert.Close(status, caller, now)
	} else {
		alert.Status = status
		alert.UpdatedAt = now
	}

	if err := s.alerts.Update(ctx, alert); err != nil {
		logger.Error().Err(err).Str("alert_id", alertID.String()).Msg("Failed to update alert status")
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}
	manager.Publish(processor.ChangeUpdate, alert)

	logger.Info().
		Str("alert_id", alertID.String()).
		Str("status", string(status)).
		Str("by", caller).
		Msg("Alert status changed")
	return alert, nil
}

func (s *alertService) GetAlert(ctx context.Context, id uuid.UUID) (*models.AlertRecord, error) {
	alert, err := s.alerts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrAlertNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return alert, nil
}

func (s *alertService) GetRecentAlerts(ctx context.Context, limit int) ([]*models.AlertRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100 // default limit
	}
	return s.alerts.GetRecent(ctx, limit)
}

func (s *alertService) GetOpenAlerts(ctx context.Context) ([]*models.AlertRecord, error) {
	return s.alerts.ListOpen(ctx)
}

func (s *alertService) GetTotalAlertsCount(ctx context.Context) (int64, error) {
	return s.alerts.Count(ctx)
}

func (s *alertService) GetActiveAlertsCount(ctx context.Context) (int64, error) {
	return s.alerts.CountByStatus(ctx, models.OpenStatuses...)
}

func (s *alertService) GetSeverityCounts(ctx context.Context) (*SeverityCounts, error) {
	critical, err := s.alerts.CountBySeverity(ctx, models.SeverityCritical)
	if err != nil {
		return nil, err
	}
	high, err := s.alerts.CountBySeverity(ctx, models.SeverityHigh)
	if err != nil {
		return nil, err
	}
	medium, err := s.alerts.CountBySeverity(ctx, models.SeverityMedium)
	if err != nil {
		return nil, err
	}
	low, err := s.alerts.CountBySeverity(ctx, models.SeverityLow)
	if err != nil {
		return nil, err
	}
	return &SeverityCounts{
		Critical: critical,
		High:     high,
		Medium:   medium,
		Low:      low,
	}, nil
}

func (s *alertService) ListLocations(ctx context.Context) ([]*LocationStatus, error) {
	locations, err := s.locations.List(ctx)
	if err != nil {
		return nil, err
	}
	open, err := s.alerts.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	// open is newest first, keep the first per location
	latest := make(map[uuid.UUID]*models.AlertRecord, len(open))
	for _, alert := range open {
		if _, ok := latest[alert.LocationID]; !ok {
			latest[alert.LocationID] = alert
		}
	}

	statuses := make([]*LocationStatus, 0, len(locations))
	for _, location := range locations {
		st := &LocationStatus{Location: location, Status: LocationStatusNormal}
		if alert, ok := latest[location.ID]; ok {
			st.Status = LocationStatusAlert
			st.Alert = alert
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func channelOf(location *models.Location) telemetry.Channel {
	return telemetry.Channel{
		Name:      location.Name,
		ChannelID: location.ChannelID,
		ReadKey:   location.ReadKey,
	}
}
