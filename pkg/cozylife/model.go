package cozylife

import (
	"errors"
	"time"
)

const (
	DefaultPort    = 5555
	DefaultTimeout = 5 * time.Second
)

// protocol commands
const (
	CMD_INFO  = 0
	CMD_QUERY = 2
	CMD_SET   = 3
)

// attribute keys
const (
	KEY_SWITCH  = "1"
	KEY_CURRENT = "27"
	KEY_POWER   = "28"
	KEY_VOLTAGE = "29"
)

const (
	SWITCH_VALUE_ON  = 255
	SWITCH_VALUE_OFF = 0
)

var (
	// ErrConnection is returned when the device is unreachable or the session broke.
	ErrConnection = errors.New("cozylife: connection error")

	// ErrTimeout is returned when the device did not answer within the client timeout.
	ErrTimeout = errors.New("cozylife: timeout")

	// ErrProtocol is returned when the device answered with a frame that cannot be decoded.
	ErrProtocol = errors.New("cozylife: protocol error")
)

// DeviceProxy owns the session to a single CozyLife device. All calls block.
// QueryState returns a nil State and a nil error when the device answered
// without attribute data.
type DeviceProxy interface {
	TestConnection() (bool, error)
	QueryState() (State, error)
	SendCommand(on bool) (bool, error)
	Close() error
}

// State maps protocol attribute keys to raw values.
type State map[string]float64

// Get returns the raw value for key, or 0 when the device did not report it.
func (s State) Get(key string) float64 {
	if s == nil {
		return 0
	}
	return s[key]
}

type DeviceInfo struct {
	DeviceId  string `json:"did"`
	ProductId string `json:"pid"`
	Mac       string `json:"mac,omitempty"`
	Version   string `json:"dmn,omitempty"`
}

type DeviceInstrument struct {
	RecordTime func(fnName string, duration time.Duration)
}

func RecordTimer(name string, instrument []DeviceInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
