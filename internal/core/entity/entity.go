package entity

import (
	"fmt"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
)

// Entity is a host visible switch or sensor bound to one device record.
type Entity interface {
	UniqueId() string
	ObjectId() string
	Name() string
	Component() string
	Available() bool
	Snapshot() domain.EntityState
	// ApplyPoll folds one query result into the entity and returns the events to publish.
	ApplyPoll(result domain.PollResult) []domain.SensorUpdateEvent
}

type baseEntity struct {
	record       domain.DeviceRecord
	uniqueId     string
	name         string
	component    string
	availability *Availability
	announced    bool
}

func (e *baseEntity) UniqueId() string {
	return e.uniqueId
}

func (e *baseEntity) ObjectId() string {
	return domain.ObjectId(e.uniqueId)
}

func (e *baseEntity) Name() string {
	return e.name
}

func (e *baseEntity) Component() string {
	return e.component
}

func (e *baseEntity) Available() bool {
	return e.availability.Available()
}

func (e *baseEntity) snapshot(value any, lastValid any) domain.EntityState {
	if !e.availability.Available() {
		value = nil
	}
	return domain.EntityState{
		UniqueId:          e.uniqueId,
		Component:         e.component,
		Name:              e.name,
		Value:             value,
		LastValidValue:    lastValid,
		Available:         e.availability.Available(),
		Status:            e.availability.Status(),
		ConsecutiveErrors: e.availability.ErrorCount(),
	}
}

// availabilityEvent returns an event on the first result and on every transition.
func (e *baseEntity) availabilityEvent(changed bool) []domain.SensorUpdateEvent {
	if e.announced && !changed {
		return nil
	}
	e.announced = true
	return []domain.SensorUpdateEvent{domain.AvailabilityUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id:       e.ObjectId(),
			DeviceIP: e.record.IP,
		},
		Component: e.component,
		Available: e.availability.Available(),
	}}
}

func (e *baseEntity) pollFailure(result domain.PollResult) []domain.SensorUpdateEvent {
	var changed bool
	if result.Err != nil {
		changed = e.availability.Failure(fmt.Sprintf("[%s] error on update", e.name), result.Err)
	} else {
		changed = e.availability.Failure(fmt.Sprintf("[%s] no response on update", e.name), nil)
	}
	return e.availabilityEvent(changed)
}
