package port

import (
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
)

// MeasurementWriter stores sensor readings in a time series backend.
type MeasurementWriter interface {
	WriteMeasurement(event domain.FloatSensorUpdateEvent, at time.Time)
	WriteSwitchState(event domain.SwitchSensorUpdateEvent, at time.Time)
	Flush()
	Close()
}
