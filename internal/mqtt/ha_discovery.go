package mqtt

import (
	"fmt"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
)

const AVAILABILITY_MODE_ALL = "all"

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice    `json:"device"`
	StateTopic        string               `json:"state_topic"`
	CommandTopic      string               `json:"command_topic,omitempty"`
	StateClass        string               `json:"state_class,omitempty"`
	DeviceClass       string               `json:"device_class,omitempty"`
	UnitOfMeasurement string               `json:"unit_of_measurement,omitempty"`
	AvTopic           string               `json:"availability_topic,omitempty"`
	Availability      []HADiscoveryAvTopic `json:"availability,omitempty"`
	AvailabilityMode  string               `json:"availability_mode,omitempty"`
	EntityCategory    string               `json:"entity_category,omitempty"`
	Name              string               `json:"name"`
	UniqueId          string               `json:"unique_id"`
	ObjectId          string               `json:"object_id,omitempty"`
	Platform          string               `json:"platform"`
	EnabledByDefault  *bool                `json:"enabled_by_default,omitempty"`
	PayloadOn         string               `json:"payload_on,omitempty"`
	PayloadOff        string               `json:"payload_off,omitempty"`
	StateOn           string               `json:"state_on,omitempty"`
	StateOff          string               `json:"state_off,omitempty"`
	Icon              string               `json:"icon,omitempty"`
}

type HADiscoveryAvTopic struct {
	Topic string `json:"topic"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func (c *MQTTClient) HADiscoverySensorTopic(sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.discoveryTopic(), sensor.SensorType, sensor.Device.Id, sensor.Id)
}

func (c *MQTTClient) HADiscoverySwitchTopic(_switch domain.GenericSwitch) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.discoveryTopic(), domain.COMPONENT_SWITCH, _switch.Device.Id, _switch.Id)
}

func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	dev := device(sensor.Device)
	var topic string
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		topic = client.BridgeStateTopic()
	default:
		topic = client.SensorStateTopic(sensor.Id)
	}
	disConfig := HADiscoveryConfig{
		Device:            dev,
		StateTopic:        topic,
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.HasAvailability {
		disConfig.ObjectId = sensor.Id
		disConfig.Availability = []HADiscoveryAvTopic{
			{Topic: client.BridgeStateTopic()},
			{Topic: client.AvailabilityTopic(sensor.SensorType, sensor.Id)},
		}
		disConfig.AvailabilityMode = AVAILABILITY_MODE_ALL
	} else {
		disConfig.AvTopic = client.BridgeStateTopic()
	}
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
		// the bridge sensor reports its own availability
		disConfig.AvTopic = ""
	}
	return disConfig
}

func GenericSwitchToHADiscoveryMessage(client *MQTTClient, _switch domain.GenericSwitch) HADiscoveryConfig {
	dev := device(_switch.Device)
	return HADiscoveryConfig{
		Device:       dev,
		StateTopic:   client.SwitchStateTopic(_switch.Id),
		CommandTopic: client.SwitchCommandTopic(_switch.Id),
		Availability: []HADiscoveryAvTopic{
			{Topic: client.BridgeStateTopic()},
			{Topic: client.AvailabilityTopic(domain.COMPONENT_SWITCH, _switch.Id)},
		},
		AvailabilityMode: AVAILABILITY_MODE_ALL,
		DeviceClass:      _switch.DeviceClass,
		Name:             _switch.Name,
		UniqueId:         _switch.UniqueId,
		ObjectId:         _switch.Id,
		Icon:             _switch.Icon,
		Platform:         "mqtt",
		PayloadOn:        MQTT_PAYLOAD_ON,
		PayloadOff:       MQTT_PAYLOAD_OFF,
		StateOn:          MQTT_PAYLOAD_ON,
		StateOff:         MQTT_PAYLOAD_OFF,
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
