package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DOMAIN = "cozylife"

	CONF_IP_ADDRESS  = "ip_address"
	CONF_NAME        = "name"
	CONF_TYPE        = "type"
	CONF_DEVICE_TYPE = "device_type"
	CONF_MODE        = "mode"
	CONF_LINK        = "link"

	MAX_ERRORS = 3
)

type DeviceType string

const (
	DEVICE_TYPE_SWITCH DeviceType = "switch"
)

func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(DEVICE_TYPE_SWITCH):
		return DEVICE_TYPE_SWITCH, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDeviceType, s)
	}
}

// DeviceRecord is the persisted configuration of one physical device, keyed by IP.
type DeviceRecord struct {
	IP         string     `json:"ip_address" yaml:"ip_address"`
	Name       string     `json:"name,omitempty" yaml:"name,omitempty"`
	DeviceType DeviceType `json:"type" yaml:"type"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
}

// Title is the entry title shown to the user: the name, or the IP when unnamed.
func (r DeviceRecord) Title() string {
	if r.Name != "" {
		return r.Name
	}
	return r.IP
}

var objectIdRegexp = regexp.MustCompile("[^a-zA-Z0-9_]")

// ObjectId turns an identifier into something usable as an MQTT topic level.
func ObjectId(id string) string {
	return objectIdRegexp.ReplaceAllString(id, "_")
}

// DeviceIdentifier is the device registry grouping key (DOMAIN, ip).
func DeviceIdentifier(ip string) string {
	return ObjectId(fmt.Sprintf("%s_%s", DOMAIN, ip))
}

func SwitchUniqueId(ip string) string {
	return fmt.Sprintf("%s_%s_%s", DOMAIN, COMPONENT_SWITCH, ip)
}

func SensorUniqueId(kind string, ip string) string {
	return fmt.Sprintf("%s_%s_%s", DOMAIN, strings.ToLower(kind), ip)
}
