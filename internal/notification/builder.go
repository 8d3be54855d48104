package notification

import (
	"fmt"
	"time"

	"github.com/firewatch/dashboard/internal/models"
	"github.com/google/uuid"
)

// UnknownLocation is shown when the location name cannot be resolved
const UnknownLocation = "Unknown Location"

// Notification is what the presentation layer renders for one open alert
type Notification struct {
	Key          uuid.UUID          `json:"key"`
	LocationID   uuid.UUID          `json:"location_id"`
	LocationName string             `json:"location_name"`
	AlertType    models.AlertType   `json:"alert_type"`
	Severity     models.Severity    `json:"severity"`
	Status       models.AlertStatus `json:"status"`
	Title        string             `json:"title"`
	Message      string             `json:"message"`
	DetectedAt   time.Time          `json:"detected_at"`
	Version      time.Time          `json:"version"`
}

// Build renders the notification text for an alert record
func Build(alert *models.AlertRecord, locationName string) *Notification {
	if locationName == "" {
		locationName = UnknownLocation
	}

	reading, err := alert.Reading()
	if err != nil {
		reading = &models.SensorReading{}
	}

	var title, message string
	switch alert.AlertType {
	case models.AlertTypeFire:
		title = "Fire detected"
		message = fmt.Sprintf("Flame sensor triggered at %s (%.1f°C)", locationName, reading.Temperature)

	case models.AlertTypeGasLeak:
		title = "Gas leak detected"
		message = fmt.Sprintf("Gas level %.0f at %s is above the safe limit", reading.Gas, locationName)

	case models.AlertTypeTemperature:
		title = "High temperature"
		message = fmt.Sprintf("Temperature reached %.1f°C at %s", reading.Temperature, locationName)

	case models.AlertTypeMotion:
		title = "Motion detected"
		message = fmt.Sprintf("Motion sensor triggered at %s", locationName)

	default:
		title = "Alert"
		message = fmt.Sprintf("%s alert at %s", alert.AlertType, locationName)
	}

	return &Notification{
		Key:          alert.ID,
		LocationID:   alert.LocationID,
		LocationName: locationName,
		AlertType:    alert.AlertType,
		Severity:     alert.Severity,
		Status:       alert.Status,
		Title:        title,
		Message:      message,
		DetectedAt:   alert.Timestamp,
		Version:      alert.Version(),
	}
}
