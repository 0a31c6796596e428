package influx

import (
	"testing"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSensorPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := SensorPoint(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id:       "cozylife_power_10_0_0_2",
			DeviceIP: "10.0.0.2",
		},
		Kind:  "Power",
		Unit:  "W",
		Value: 42.5,
	}, at)

	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, MEASUREMENT_SENSOR+",")
	assert.Contains(t, line, "entity=cozylife_power_10_0_0_2")
	assert.Contains(t, line, "ip=10.0.0.2")
	assert.Contains(t, line, "kind=Power")
	assert.Contains(t, line, "value=42.5")
	assert.Contains(t, line, "1700000000")
}

func TestSwitchPoint(t *testing.T) {
	p := SwitchPoint(domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id:       "cozylife_switch_10_0_0_2",
			DeviceIP: "10.0.0.2",
		},
		Value: true,
	}, time.Now())

	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, MEASUREMENT_SWITCH+",")
	assert.Contains(t, line, "on=true")
}

func TestNewWriterDisabled(t *testing.T) {
	_, err := NewWriter(config.InfluxConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrDisabled)
}
