package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	STATE_CLASS_MEASUREMENT      = "measurement"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_OUTLET          = "outlet"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	COMPONENT_SWITCH             = "switch"
	DEVICE_MANUFACTURER          = "CozyLife"
	DEVICE_MODEL_SMART_SWITCH    = "Smart Switch"
	DEVICE_SW_VERSION            = "1.0"
	BRIDGE_DEVICE_MANUFACTURER   = "ACasal"
	BRIDGE_DEVICE_MODEL          = "CozyLife2MQTT"
	BRIDGE_DEVICE_ID_PREFIX      = "cozylife_bridge_"
	BRIDGE_DEVICE_NAME_PREFIX    = "CozyLife2MQTT "
	BRIDGE_SENSOR_NAME           = "Bridge state"
	DEFAULT_SWITCH_NAME_PREFIX   = "CozyLife Switch "
	DEFAULT_SENSOR_DEVICE_PREFIX = "cozylife_"
)

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement
	DeviceClass       string // voltage, current, power
	EntityCategory    string // diagnostic, nil
	EnabledByDefault  *bool
	Icon              string
	// per entity availability, bridge state is always used
	HasAvailability bool
}

type GenericSwitch struct {
	Device      Device
	Id          string
	Name        string
	UniqueId    string
	DeviceClass string
	Icon        string
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           BRIDGE_DEVICE_ID_PREFIX + md5HashShort(baseTopic),
		Manufacturer: BRIDGE_DEVICE_MANUFACTURER,
		Model:        BRIDGE_DEVICE_MODEL,
		Version:      versioninfo.Short(),
		Name:         BRIDGE_DEVICE_NAME_PREFIX + md5HashShort(baseTopic),
	}
}

func BridgeSensors(bridge Device) []GenericSensor {
	return []GenericSensor{
		{
			Device:         bridge,
			Id:             SENSOR_ID_BRIDGE_STATE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           BRIDGE_SENSOR_NAME,
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       fmt.Sprintf("%s_%s", bridge.Id, SENSOR_ID_BRIDGE_STATE),
		},
	}
}

// RecordDevice is the device registry entry shared by all entities of a record.
func RecordDevice(record DeviceRecord, viaDevice string) Device {
	name := record.Name
	if name == "" {
		name = DEFAULT_SENSOR_DEVICE_PREFIX + record.IP
	}
	return Device{
		Id:           DeviceIdentifier(record.IP),
		Name:         name,
		Manufacturer: DEVICE_MANUFACTURER,
		Model:        DEVICE_MODEL_SMART_SWITCH,
		Version:      DEVICE_SW_VERSION,
		ViaDevice:    viaDevice,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func md5HashShort(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])[:8]
}
