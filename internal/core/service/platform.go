package service

import (
	"fmt"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/entity"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"

	"go.uber.org/zap"
)

const (
	PLATFORM_SWITCH = "switch"
	PLATFORM_SENSOR = "sensor"
)

// PlatformService sets up switch or sensor entities for device records. Each handle it
// returns owns a dedicated proxy.
type PlatformService struct {
	name         string
	proxyFactory port.ProxyFactory
	features     config.FeaturesConfig
	maxErrors    int
	viaDevice    string
	logger       *zap.Logger
}

func NewSwitchPlatform(cfg *config.Config, proxyFactory port.ProxyFactory, logger *zap.Logger) *PlatformService {
	return newPlatformService(PLATFORM_SWITCH, cfg, proxyFactory, logger)
}

func NewSensorPlatform(cfg *config.Config, proxyFactory port.ProxyFactory, logger *zap.Logger) *PlatformService {
	return newPlatformService(PLATFORM_SENSOR, cfg, proxyFactory, logger)
}

func newPlatformService(name string, cfg *config.Config, proxyFactory port.ProxyFactory, logger *zap.Logger) *PlatformService {
	return &PlatformService{
		name:         name,
		proxyFactory: proxyFactory,
		features:     cfg.Features,
		maxErrors:    cfg.Devices.MaxErrors,
		viaDevice:    domain.BridgeDevice(cfg.MQTT.BaseTopic).Id,
		logger:       logger.With(zap.String("platform", name)),
	}
}

// DeviceProxyFactory opens real CozyLife clients with the configured port and timeout.
func DeviceProxyFactory(cfg config.DevicesConfig, logger *zap.Logger) port.ProxyFactory {
	return func(ip string) (cozylife.DeviceProxy, error) {
		devicePort := cfg.Port
		if devicePort == 0 {
			devicePort = cozylife.DefaultPort
		}
		timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
		if timeout <= 0 {
			timeout = cozylife.DefaultTimeout
		}
		return cozylife.CreateDeviceClient(ip, devicePort, timeout, logger, nil)
	}
}

func (s *PlatformService) Name() string {
	return s.name
}

func (s *PlatformService) Setup(record domain.DeviceRecord) (port.EntityHandle, error) {
	if record.DeviceType != domain.DEVICE_TYPE_SWITCH {
		return nil, fmt.Errorf("%s platform: %w: %q", s.name, domain.ErrUnsupportedDeviceType, record.DeviceType)
	}

	entityLogger := zap.NewNop()
	if s.features.LoggingEnabled {
		entityLogger = s.logger.With(zap.String("ip", record.IP))
	}

	device := domain.RecordDevice(record, s.viaDevice)
	handle := &platformHandle{
		platform: s.name,
		record:   record,
	}

	switch s.name {
	case PLATFORM_SWITCH:
		handle.switchEntity = entity.NewSwitchEntity(record, device, s.maxErrors, entityLogger)
		handle.entities = append(handle.entities, handle.switchEntity)
	case PLATFORM_SENSOR:
		for _, kind := range entity.EnabledSensorKinds(s.features) {
			sensor := entity.NewSensorEntity(record, device, kind, s.maxErrors, entityLogger)
			handle.sensors = append(handle.sensors, sensor)
			handle.entities = append(handle.entities, sensor)
		}
		if len(handle.sensors) == 0 {
			return nil, nil
		}
	}

	proxy, err := s.proxyFactory(record.IP)
	if err != nil {
		return nil, fmt.Errorf("%s platform: open proxy for %s: %w", s.name, record.IP, err)
	}
	handle.proxy = proxy
	return handle, nil
}

type platformHandle struct {
	platform     string
	record       domain.DeviceRecord
	proxy        cozylife.DeviceProxy
	switchEntity *entity.SwitchEntity
	sensors      []*entity.SensorEntity
	entities     []entity.Entity
}

func (h *platformHandle) Platform() string {
	return h.platform
}

func (h *platformHandle) Record() domain.DeviceRecord {
	return h.record
}

func (h *platformHandle) Entities() []entity.Entity {
	return h.entities
}

// Poll runs one query for all entities of the handle.
func (h *platformHandle) Poll() domain.PollResult {
	state, err := h.proxy.QueryState()
	return domain.PollResult{State: state, Err: err}
}

func (h *platformHandle) Command(on bool) domain.CommandResult {
	if h.switchEntity == nil {
		return domain.CommandResult{On: on, Err: fmt.Errorf("%s platform does not accept commands", h.platform)}
	}
	ok, err := h.proxy.SendCommand(on)
	return domain.CommandResult{On: on, Ok: ok, Err: err}
}

func (h *platformHandle) ApplyPoll(result domain.PollResult) []domain.SensorUpdateEvent {
	var events []domain.SensorUpdateEvent
	for _, e := range h.entities {
		events = append(events, e.ApplyPoll(result)...)
	}
	return events
}

func (h *platformHandle) ApplyCommand(result domain.CommandResult) []domain.SensorUpdateEvent {
	if h.switchEntity == nil {
		return nil
	}
	return h.switchEntity.ApplyCommand(result)
}

func (h *platformHandle) Snapshot() []domain.EntityState {
	states := make([]domain.EntityState, 0, len(h.entities))
	for _, e := range h.entities {
		states = append(states, e.Snapshot())
	}
	return states
}

func (h *platformHandle) Discovery() ([]domain.GenericSensor, []domain.GenericSwitch) {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	for i, s := range h.sensors {
		disc := s.Discovery()
		if i > 0 {
			disc.Device = domain.IdDevice(disc.Device)
		}
		sensors = append(sensors, disc)
	}
	if h.switchEntity != nil {
		switches = append(switches, h.switchEntity.Discovery())
	}
	return sensors, switches
}

func (h *platformHandle) Close() error {
	if h.proxy == nil {
		return nil
	}
	return h.proxy.Close()
}

// ensure interface compliance
var _ port.EntityPlatform = (*PlatformService)(nil)
var _ port.EntityHandle = (*platformHandle)(nil)
