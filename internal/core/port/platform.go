package port

import (
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/entity"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"
)

// ProxyFactory opens a device proxy for one address.
type ProxyFactory func(ip string) (cozylife.DeviceProxy, error)

// EntityPlatform builds the entities of one kind (switch or sensor) for a record.
// Setup returns a nil handle when the platform has nothing to offer for the record.
type EntityPlatform interface {
	Name() string
	Setup(record domain.DeviceRecord) (EntityHandle, error)
}

// EntityHandle groups the entities of one record and platform around one proxy.
// Poll and Command block on device I/O and touch no entity state. The Apply methods
// mutate entity state and must only be called by the owner of the handle.
type EntityHandle interface {
	Platform() string
	Record() domain.DeviceRecord
	Entities() []entity.Entity
	Poll() domain.PollResult
	Command(on bool) domain.CommandResult
	ApplyPoll(result domain.PollResult) []domain.SensorUpdateEvent
	ApplyCommand(result domain.CommandResult) []domain.SensorUpdateEvent
	Snapshot() []domain.EntityState
	Discovery() ([]domain.GenericSensor, []domain.GenericSwitch)
	Close() error
}
