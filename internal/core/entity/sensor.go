package entity

import (
	"fmt"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"

	"go.uber.org/zap"
)

// SensorKind maps one protocol key to one physical measurement.
type SensorKind struct {
	Name        string
	Key         string
	Unit        string
	DeviceClass string
	Decimals    uint
	Convert     func(raw float64) float64
}

func identity(raw float64) float64 {
	return raw
}

var (
	SENSOR_KIND_CURRENT = SensorKind{
		Name:        "Current",
		Key:         cozylife.KEY_CURRENT,
		Unit:        "A",
		DeviceClass: domain.DEVICE_CLASS_CURRENT,
		Decimals:    3,
		Convert: func(raw float64) float64 {
			return raw / 1000.0
		},
	}
	SENSOR_KIND_POWER = SensorKind{
		Name:        "Power",
		Key:         cozylife.KEY_POWER,
		Unit:        "W",
		DeviceClass: domain.DEVICE_CLASS_POWER,
		Decimals:    1,
		Convert:     identity,
	}
	SENSOR_KIND_VOLTAGE = SensorKind{
		Name:        "Voltage",
		Key:         cozylife.KEY_VOLTAGE,
		Unit:        "V",
		DeviceClass: domain.DEVICE_CLASS_VOLTAGE,
		Decimals:    1,
		Convert:     identity,
	}
)

// EnabledSensorKinds lists the sensor kinds turned on by the feature flags.
func EnabledSensorKinds(features config.FeaturesConfig) []SensorKind {
	var kinds []SensorKind
	if features.EnableCurrent {
		kinds = append(kinds, SENSOR_KIND_CURRENT)
	}
	if features.EnablePower {
		kinds = append(kinds, SENSOR_KIND_POWER)
	}
	if features.EnableVoltage {
		kinds = append(kinds, SENSOR_KIND_VOLTAGE)
	}
	return kinds
}

type SensorEntity struct {
	baseEntity
	kind      SensorKind
	device    domain.Device
	value     *float64
	lastValid *float64
	logger    *zap.Logger
}

func NewSensorEntity(record domain.DeviceRecord, device domain.Device, kind SensorKind, maxErrors int, logger *zap.Logger) *SensorEntity {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseName := record.Name
	if baseName == "" {
		baseName = domain.DEFAULT_SENSOR_DEVICE_PREFIX + record.IP
	}
	name := fmt.Sprintf("%s %s", baseName, kind.Name)
	return &SensorEntity{
		baseEntity: baseEntity{
			record:       record,
			uniqueId:     domain.SensorUniqueId(kind.Name, record.IP),
			name:         name,
			component:    domain.SENSOR_TYPE_SENSOR,
			availability: NewAvailability(name, maxErrors, logger),
		},
		kind:   kind,
		device: device,
		logger: logger,
	}
}

func (e *SensorEntity) Kind() SensorKind {
	return e.kind
}

// Value returns the current reading. ok is false while the entity has none.
func (e *SensorEntity) Value() (value float64, ok bool) {
	if e.value == nil || !e.availability.Available() {
		return 0, false
	}
	return *e.value, true
}

func (e *SensorEntity) Snapshot() domain.EntityState {
	var value, lastValid any
	if e.value != nil {
		value = *e.value
	}
	if e.lastValid != nil {
		lastValid = *e.lastValid
	}
	return e.snapshot(value, lastValid)
}

func (e *SensorEntity) ApplyPoll(result domain.PollResult) []domain.SensorUpdateEvent {
	if !result.Ok() {
		return e.pollFailure(result)
	}
	value := e.kind.Convert(result.State.Get(e.kind.Key))
	changed := e.availability.Success()
	e.value = &value
	e.lastValid = &value
	e.logger.Debug(fmt.Sprintf("[%s] updated state", e.name), zap.Float64("value", value))
	events := []domain.SensorUpdateEvent{domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id:       e.ObjectId(),
			DeviceIP: e.record.IP,
		},
		Kind:     e.kind.Name,
		Unit:     e.kind.Unit,
		Value:    value,
		Decimals: e.kind.Decimals,
	}}
	return append(events, e.availabilityEvent(changed)...)
}

func (e *SensorEntity) Discovery() domain.GenericSensor {
	return domain.GenericSensor{
		Device:            e.device,
		Id:                e.ObjectId(),
		SensorType:        domain.SENSOR_TYPE_SENSOR,
		Name:              e.name,
		UniqueId:          e.uniqueId,
		UnitOfMeasurement: e.kind.Unit,
		StateClass:        domain.STATE_CLASS_MEASUREMENT,
		DeviceClass:       e.kind.DeviceClass,
		HasAvailability:   true,
	}
}

// ensure interface compliance
var _ Entity = (*SensorEntity)(nil)
