package entity

import (
	"fmt"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"

	"go.uber.org/zap"
)

type SwitchEntity struct {
	baseEntity
	device    domain.Device
	isOn      bool
	hasValue  bool
	lastValid *bool
	logger    *zap.Logger
}

func NewSwitchEntity(record domain.DeviceRecord, device domain.Device, maxErrors int, logger *zap.Logger) *SwitchEntity {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := record.Name
	if name == "" {
		name = domain.DEFAULT_SWITCH_NAME_PREFIX + record.IP
	}
	uniqueId := domain.SwitchUniqueId(record.IP)
	return &SwitchEntity{
		baseEntity: baseEntity{
			record:       record,
			uniqueId:     uniqueId,
			name:         name,
			component:    domain.COMPONENT_SWITCH,
			availability: NewAvailability(name, maxErrors, logger),
		},
		device: device,
		logger: logger,
	}
}

// IsOn reports the last known relay state, false until the first successful read.
func (e *SwitchEntity) IsOn() bool {
	return e.isOn
}

func (e *SwitchEntity) Snapshot() domain.EntityState {
	var value, lastValid any
	if e.hasValue {
		value = e.isOn
	}
	if e.lastValid != nil {
		lastValid = *e.lastValid
	}
	return e.snapshot(value, lastValid)
}

func (e *SwitchEntity) ApplyPoll(result domain.PollResult) []domain.SensorUpdateEvent {
	if !result.Ok() {
		return e.pollFailure(result)
	}
	on := result.State.Get(cozylife.KEY_SWITCH) > 0
	changed := e.availability.Success()
	e.setValue(on)
	e.logger.Debug(fmt.Sprintf("[%s] updated state", e.name), zap.Bool("on", on))
	return append(e.valueEvents(), e.availabilityEvent(changed)...)
}

// ApplyCommand folds the result of a turn on/off command into the entity.
func (e *SwitchEntity) ApplyCommand(result domain.CommandResult) []domain.SensorUpdateEvent {
	if !result.Succeeded() {
		verb := "turn off"
		if result.On {
			verb = "turn on"
		}
		var changed bool
		if result.Err != nil {
			changed = e.availability.Failure(fmt.Sprintf("[%s] error on %s", e.name, verb), result.Err)
		} else {
			changed = e.availability.Failure(fmt.Sprintf("[%s] failed to %s", e.name, verb), nil)
		}
		return e.availabilityEvent(changed)
	}
	changed := e.availability.Success()
	e.setValue(result.On)
	e.logger.Debug(fmt.Sprintf("[%s] turned %s", e.name, onOff(result.On)))
	return append(e.valueEvents(), e.availabilityEvent(changed)...)
}

func (e *SwitchEntity) Discovery() domain.GenericSwitch {
	return domain.GenericSwitch{
		Device:      e.device,
		Id:          e.ObjectId(),
		Name:        e.name,
		UniqueId:    e.uniqueId,
		DeviceClass: domain.DEVICE_CLASS_OUTLET,
	}
}

func (e *SwitchEntity) setValue(on bool) {
	e.isOn = on
	e.hasValue = true
	e.lastValid = &on
}

func (e *SwitchEntity) valueEvents() []domain.SensorUpdateEvent {
	return []domain.SensorUpdateEvent{domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id:       e.ObjectId(),
			DeviceIP: e.record.IP,
		},
		Value: e.isOn,
	}}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// ensure interface compliance
var _ Entity = (*SwitchEntity)(nil)
