package cozylife

import (
	"sync"
	"time"
)

func CreateTestDeviceProxy(state State) *TestDeviceProxy {
	return &TestDeviceProxy{
		state:  state,
		online: true,
	}
}

// TestDeviceProxy is an in-memory device. Switch commands update key "1".
type TestDeviceProxy struct {
	mu       sync.Mutex
	state    State
	online   bool
	noAnswer bool
	err      error
	delay    time.Duration

	Queries  int
	Commands []bool
	Closed   bool
}

func (d *TestDeviceProxy) SetState(state State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

func (d *TestDeviceProxy) SetOnline(online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = online
}

// SetNoAnswer makes QueryState return a nil state without error.
func (d *TestDeviceProxy) SetNoAnswer(noAnswer bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noAnswer = noAnswer
}

func (d *TestDeviceProxy) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *TestDeviceProxy) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

func (d *TestDeviceProxy) QueryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Queries
}

func (d *TestDeviceProxy) wait() {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (d *TestDeviceProxy) TestConnection() (bool, error) {
	d.wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.online, nil
}

func (d *TestDeviceProxy) QueryState() (State, error) {
	d.mu.Lock()
	d.Queries++
	d.mu.Unlock()
	d.wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if !d.online {
		return nil, ErrConnection
	}
	if d.noAnswer {
		return nil, nil
	}
	state := State{}
	for k, v := range d.state {
		state[k] = v
	}
	return state, nil
}

func (d *TestDeviceProxy) SendCommand(on bool) (bool, error) {
	d.wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if !d.online {
		return false, nil
	}
	d.Commands = append(d.Commands, on)
	if d.state == nil {
		d.state = State{}
	}
	if on {
		d.state[KEY_SWITCH] = SWITCH_VALUE_ON
	} else {
		d.state[KEY_SWITCH] = SWITCH_VALUE_OFF
	}
	return true, nil
}

func (d *TestDeviceProxy) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

func (d *TestDeviceProxy) CommandLog() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.Commands...)
}

func (d *TestDeviceProxy) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Closed
}

// ensure interface compliance
var _ DeviceProxy = (*TestDeviceProxy)(nil)
