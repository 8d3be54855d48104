package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/firewatch/dashboard/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAlertNotFound is returned when no alert has the requested id
var ErrAlertNotFound = errors.New("alert not found")

// AlertRepo interface for alert storage
type AlertRepo interface {
	Create(ctx context.Context, alert *models.AlertRecord) error
	Update(ctx context.Context, alert *models.AlertRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AlertRecord, error)
	// FindLatestOpenSince returns the most recent open alert of the location
	// whose timestamp is at or after since, or nil when there is none.
	FindLatestOpenSince(ctx context.Context, locationID uuid.UUID, since time.Time) (*models.AlertRecord, error)
	ListOpen(ctx context.Context) ([]*models.AlertRecord, error)
	GetRecent(ctx context.Context, limit int) ([]*models.AlertRecord, error)
	CountByLocation(ctx context.Context, locationID uuid.UUID) (int64, error)
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, statuses ...models.AlertStatus) (int64, error)
	CountBySeverity(ctx context.Context, severity models.Severity) (int64, error)
}

// InMemoryAlertRepo stores alerts in memory
type InMemoryAlertRepo struct {
	alerts map[uuid.UUID]*models.AlertRecord
	mu     sync.RWMutex
}

func NewInMemoryAlertRepo() *InMemoryAlertRepo {
	return &InMemoryAlertRepo{
		alerts: make(map[uuid.UUID]*models.AlertRecord),
	}
}

func (r *InMemoryAlertRepo) Create(ctx context.Context, alert *models.AlertRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *InMemoryAlertRepo) Update(ctx context.Context, alert *models.AlertRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return ErrAlertNotFound
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *InMemoryAlertRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return alert.Clone(), nil
}

func (r *InMemoryAlertRepo) FindLatestOpenSince(ctx context.Context, locationID uuid.UUID, since time.Time) (*models.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *models.AlertRecord
	for _, alert := range r.alerts {
		if alert.LocationID != locationID || !alert.IsOpen() || alert.Timestamp.Before(since) {
			continue
		}
		if latest == nil || alert.Timestamp.After(latest.Timestamp) {
			latest = alert
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (r *InMemoryAlertRepo) ListOpen(ctx context.Context) ([]*models.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open := make([]*models.AlertRecord, 0)
	for _, alert := range r.alerts {
		if alert.IsOpen() {
			open = append(open, alert.Clone())
		}
	}
	sortNewestFirst(open)
	return open, nil
}

func (r *InMemoryAlertRepo) GetRecent(ctx context.Context, limit int) ([]*models.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.AlertRecord, 0, len(r.alerts))
	for _, alert := range r.alerts {
		all = append(all, alert.Clone())
	}
	sortNewestFirst(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *InMemoryAlertRepo) CountByLocation(ctx context.Context, locationID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := int64(0)
	for _, alert := range r.alerts {
		if alert.LocationID == locationID {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryAlertRepo) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.alerts)), nil
}

func (r *InMemoryAlertRepo) CountByStatus(ctx context.Context, statuses ...models.AlertStatus) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := int64(0)
	for _, alert := range r.alerts {
		for _, status := range statuses {
			if alert.Status == status {
				count++
				break
			}
		}
	}
	return count, nil
}

func (r *InMemoryAlertRepo) CountBySeverity(ctx context.Context, severity models.Severity) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := int64(0)
	for _, alert := range r.alerts {
		if alert.Severity == severity && alert.IsOpen() {
			count++
		}
	}
	return count, nil
}

func sortNewestFirst(alerts []*models.AlertRecord) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}

// PostgresAlertRepo stores alerts in PostgreSQL
type PostgresAlertRepo struct {
	db *gorm.DB
}

func NewPostgresAlertRepo(db *gorm.DB) *PostgresAlertRepo {
	return &PostgresAlertRepo{db: db}
}

func (r *PostgresAlertRepo) Create(ctx context.Context, alert *models.AlertRecord) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

func (r *PostgresAlertRepo) Update(ctx context.Context, alert *models.AlertRecord) error {
	result := r.db.WithContext(ctx).
		Model(&models.AlertRecord{}).
		Where("id = ?", alert.ID).
		Updates(map[string]interface{}{
			"alert_type":    alert.AlertType,
			"severity":      alert.Severity,
			"status":        alert.Status,
			"sensor_values": alert.SensorValues,
			"timestamp":     alert.Timestamp,
			"resolved_at":   alert.ResolvedAt,
			"resolved_by":   alert.ResolvedBy,
			"updated_at":    alert.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *PostgresAlertRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AlertRecord, error) {
	var alert models.AlertRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *PostgresAlertRepo) FindLatestOpenSince(ctx context.Context, locationID uuid.UUID, since time.Time) (*models.AlertRecord, error) {
	var alerts []*models.AlertRecord
	err := r.db.WithContext(ctx).
		Where(`location_id = ? AND status IN ? AND "timestamp" >= ?`, locationID, models.OpenStatuses, since).
		Order(`"timestamp" DESC`).
		Limit(1).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return alerts[0], nil
}

func (r *PostgresAlertRepo) ListOpen(ctx context.Context) ([]*models.AlertRecord, error) {
	var alerts []*models.AlertRecord
	err := r.db.WithContext(ctx).
		Where("status IN ?", models.OpenStatuses).
		Order(`"timestamp" DESC`).
		Find(&alerts).Error
	return alerts, err
}

func (r *PostgresAlertRepo) GetRecent(ctx context.Context, limit int) ([]*models.AlertRecord, error) {
	var alerts []*models.AlertRecord
	err := r.db.WithContext(ctx).
		Order(`"timestamp" DESC`).
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

func (r *PostgresAlertRepo) CountByLocation(ctx context.Context, locationID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AlertRecord{}).
		Where("location_id = ?", locationID).
		Count(&count).Error
	return count, err
}

func (r *PostgresAlertRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AlertRecord{}).
		Count(&count).Error
	return count, err
}

func (r *PostgresAlertRepo) CountByStatus(ctx context.Context, statuses ...models.AlertStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AlertRecord{}).
		Where("status IN ?", statuses).
		Count(&count).Error
	return count, err
}

func (r *PostgresAlertRepo) CountBySeverity(ctx context.Context, severity models.Severity) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.AlertRecord{}).
		Where("severity = ? AND status IN ?", severity, models.OpenStatuses).
		Count(&count).Error
	return count, err
}
