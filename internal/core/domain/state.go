package domain

import "github.com/berfenger/cozylife2mqtt/pkg/cozylife"

// AvailabilityStatus is the position of an entity in the error tolerance window.
type AvailabilityStatus string

const (
	STATUS_HEALTHY     AvailabilityStatus = "healthy"
	STATUS_DEGRADED    AvailabilityStatus = "degraded"
	STATUS_UNAVAILABLE AvailabilityStatus = "unavailable"
)

// EntityState is a snapshot of one switch or sensor entity. Value is nil while the entity is
// unavailable or has never been read; LastValidValue survives failed polls.
type EntityState struct {
	UniqueId          string             `json:"unique_id" yaml:"unique_id"`
	Component         string             `json:"component" yaml:"component"`
	Name              string             `json:"name" yaml:"name"`
	Value             any                `json:"value" yaml:"value"`
	LastValidValue    any                `json:"last_valid_value" yaml:"last_valid_value"`
	Available         bool               `json:"available" yaml:"available"`
	Status            AvailabilityStatus `json:"status" yaml:"status"`
	ConsecutiveErrors int                `json:"consecutive_errors" yaml:"consecutive_errors"`
}

// PollResult is the outcome of one bounded query. A nil State with a nil Err is the
// device's explicit "no response".
type PollResult struct {
	State cozylife.State
	Err   error
}

func (r PollResult) Ok() bool {
	return r.Err == nil && r.State != nil
}

type CommandResult struct {
	On  bool
	Ok  bool
	Err error
}

func (r CommandResult) Succeeded() bool {
	return r.Err == nil && r.Ok
}
