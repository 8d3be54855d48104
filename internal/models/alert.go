package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AlertType is the category of hazard an alert reports
type AlertType string

const (
	AlertTypeFire        AlertType = "fire"
	AlertTypeGasLeak     AlertType = "gas_leak"
	AlertTypeTemperature AlertType = "temperature"
	AlertTypeMotion      AlertType = "motion"
)

// Severity levels
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"
	AlertStatusInQueue    AlertStatus = "in_queue"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusFalseAlarm AlertStatus = "false_alarm"
)

// OpenStatuses lists the statuses of an alert that still needs attention
var OpenStatuses = []AlertStatus{AlertStatusActive, AlertStatusInQueue}

// IsOpen returns true for active and in_queue
func (s AlertStatus) IsOpen() bool {
	return s == AlertStatusActive || s == AlertStatusInQueue
}

// IsClosed returns true for resolved and false_alarm
func (s AlertStatus) IsClosed() bool {
	return s == AlertStatusResolved || s == AlertStatusFalseAlarm
}

// Valid reports whether s is a known status
func (s AlertStatus) Valid() bool {
	return s.IsOpen() || s.IsClosed()
}

// Classification is the outcome of evaluating one sensor reading
type Classification struct {
	Type     AlertType `json:"alert_type"`
	Severity Severity  `json:"severity"`
}

// AlertRecord is a persisted alert for one location.
// JSON tags match the column names so rows serialized by the database
// (row_to_json) decode straight into this type.
type AlertRecord struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	LocationID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"location_id"`
	AlertType    AlertType      `gorm:"type:varchar(20);not null" json:"alert_type"`
	Severity     Severity       `gorm:"type:varchar(20);not null;index" json:"severity"`
	Status       AlertStatus    `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	SensorValues datatypes.JSON `gorm:"type:jsonb" json:"sensor_values"`
	Timestamp    time.Time      `gorm:"not null;index" json:"timestamp"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy   *string        `gorm:"type:varchar(255)" json:"resolved_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (AlertRecord) TableName() string {
	return "alerts"
}

// BeforeCreate assigns an id when the caller did not
func (a *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// NewAlertRecord creates an active alert for a location from a classification
func NewAlertRecord(locationID uuid.UUID, c Classification, reading *SensorReading, now time.Time) *AlertRecord {
	return &AlertRecord{
		ID:           uuid.New(),
		LocationID:   locationID,
		AlertType:    c.Type,
		Severity:     c.Severity,
		Status:       AlertStatusActive,
		SensorValues: reading.Snapshot(),
		Timestamp:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Redetect overwrites the detection fields with a newer classification.
// Status is left as is.
func (a *AlertRecord) Redetect(c Classification, reading *SensorReading, now time.Time) {
	a.AlertType = c.Type
	a.Severity = c.Severity
	a.SensorValues = reading.Snapshot()
	a.Timestamp = now
	a.UpdatedAt = now
}

// Close moves the alert to a closed status and records who closed it
func (a *AlertRecord) Close(status AlertStatus, by string, now time.Time) {
	a.Status = status
	a.ResolvedAt = &now
	a.ResolvedBy = &by
	a.UpdatedAt = now
}

// IsOpen returns true if the alert is active or queued
func (a *AlertRecord) IsOpen() bool {
	return a.Status.IsOpen()
}

// Version identifies the revision of the record; later writes carry a later version
func (a *AlertRecord) Version() time.Time {
	return a.UpdatedAt
}

// Reading decodes the sensor snapshot
func (a *AlertRecord) Reading() (*SensorReading, error) {
	var r SensorReading
	if len(a.SensorValues) == 0 {
		return &r, nil
	}
	if err := json.Unmarshal(a.SensorValues, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Clone returns a deep copy safe to hand to other goroutines
func (a *AlertRecord) Clone() *AlertRecord {
	c := *a
	if a.SensorValues != nil {
		c.SensorValues = append(datatypes.JSON(nil), a.SensorValues...)
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		c.ResolvedAt = &t
	}
	if a.ResolvedBy != nil {
		s := *a.ResolvedBy
		c.ResolvedBy = &s
	}
	return &c
}
