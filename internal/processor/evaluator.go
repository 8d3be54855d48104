package processor

import (
	"github.com/firewatch/dashboard/internal/config"
	"github.com/firewatch/dashboard/internal/models"
)

// Thresholds are the strict upper bounds a reading may reach without alerting
type Thresholds struct {
	Gas         float64
	Temperature float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Gas: 400, Temperature: 35}
}

// ThresholdsFromConfig reads the alert_rules section
func ThresholdsFromConfig(rules config.AlertRulesConfig) Thresholds {
	t := DefaultThresholds()
	if rules.GasThreshold > 0 {
		t.Gas = rules.GasThreshold
	}
	if rules.TemperatureThreshold > 0 {
		t.Temperature = rules.TemperatureThreshold
	}
	return t
}

// ThresholdEvaluator classifies readings. It holds no state besides its
// thresholds and is safe for concurrent use.
type ThresholdEvaluator struct {
	thresholds Thresholds
}

func NewThresholdEvaluator(thresholds Thresholds) *ThresholdEvaluator {
	return &ThresholdEvaluator{thresholds: thresholds}
}

// Evaluate returns the classification of the reading, or nil when nothing
// is wrong. Rules are checked in priority order and the first match wins:
// flame, then gas, then temperature. Motion never alerts on its own.
func (e *ThresholdEvaluator) Evaluate(reading *models.SensorReading) *models.Classification {
	if reading == nil {
		return nil
	}

	switch {
	case reading.Flame:
		return &models.Classification{Type: models.AlertTypeFire, Severity: models.SeverityCritical}
	case reading.Gas > e.thresholds.Gas:
		return &models.Classification{Type: models.AlertTypeGasLeak, Severity: models.SeverityCritical}
	case reading.Temperature > e.thresholds.Temperature:
		return &models.Classification{Type: models.AlertTypeTemperature, Severity: models.SeverityCritical}
	default:
		return nil
	}
}

func (e *ThresholdEvaluator) Thresholds() Thresholds {
	return e.thresholds
}
