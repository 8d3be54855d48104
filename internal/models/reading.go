package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SensorReading is one flat sample of a location's sensors
type SensorReading struct {
	LocationID  uuid.UUID `json:"location_id,omitzero"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Flame       bool      `json:"flame"`
	Gas         float64   `json:"gas"`
	Motion      bool      `json:"pir"`
	CapturedAt  time.Time `json:"timestamp"`
}

// Snapshot serializes the reading for the alert's sensor_values column
func (r *SensorReading) Snapshot() datatypes.JSON {
	if r == nil {
		return datatypes.JSON([]byte("{}"))
	}
	b, err := json.Marshal(r)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}
