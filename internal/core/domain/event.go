package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id       string
	DeviceIP string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Kind     string
	Unit     string
	Value    float64
	Decimals uint
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// AvailabilityUpdateEvent is emitted on the first poll result of an entity and on every
// availability transition afterwards.
type AvailabilityUpdateEvent struct {
	SensorUpdateEventMixIn
	Component string
	Available bool
}

// EntitiesAnnouncedEvent is emitted when a platform actor has set up the entities of a record.
type EntitiesAnnouncedEvent struct {
	Record   DeviceRecord
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

// EntitiesRetiredEvent is emitted when a platform actor stops because its record was removed.
type EntitiesRetiredEvent struct {
	Record   DeviceRecord
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

// ensure interface compliance
var _ SensorUpdateEvent = (*FloatSensorUpdateEvent)(nil)
var _ SensorUpdateEvent = (*SwitchSensorUpdateEvent)(nil)
var _ SensorUpdateEvent = (*AvailabilityUpdateEvent)(nil)
