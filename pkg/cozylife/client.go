package cozylife

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxFramesPerRequest = 16

type frame struct {
	Cmd int             `json:"cmd"`
	Pv  int             `json:"pv"`
	Sn  string          `json:"sn"`
	Msg json.RawMessage `json:"msg"`
}

type attrMessage struct {
	Attr []int                     `json:"attr"`
	Data map[string]json.RawMessage `json:"data,omitempty"`
}

type setMessage struct {
	Attr []int          `json:"attr"`
	Data map[string]int `json:"data"`
}

type DeviceClient struct {
	addr       string
	timeout    time.Duration
	instrument []DeviceInstrument
	logger     *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	lastSn int64
}

func traceLoggerInstrumentation(logger *zap.Logger) *DeviceInstrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &DeviceInstrument{
		RecordTime: func(fnName string, duration time.Duration) {
			logger.Debug("cozylife request", zap.String("fn", fnName), zap.Int64("millis", duration.Milliseconds()))
		},
	}
}

func CreateDeviceClient(ip string, port uint, timeout time.Duration, logger *zap.Logger, instrumentation *DeviceInstrument) (*DeviceClient, error) {
	if ip == "" {
		return nil, fmt.Errorf("%w: empty device address", ErrConnection)
	}
	if port == 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// instrumentation
	var inst []DeviceInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "cozylife"), zap.String("ip", ip)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &DeviceClient{
		addr:       net.JoinHostPort(ip, strconv.FormatUint(uint64(port), 10)),
		timeout:    timeout,
		instrument: inst,
		logger:     logger,
	}, nil
}

func (c *DeviceClient) TestConnection() (bool, error) {
	defer RecordTimer("TestConnection", c.instrument)()
	msg, err := c.request(CMD_INFO, struct{}{})
	if err != nil {
		return false, err
	}
	var info DeviceInfo
	if err := json.Unmarshal(msg, &info); err != nil {
		return false, fmt.Errorf("%w: %s", ErrProtocol, err)
	}
	return true, nil
}

func (c *DeviceClient) QueryState() (State, error) {
	defer RecordTimer("QueryState", c.instrument)()
	msg, err := c.request(CMD_QUERY, attrMessage{Attr: []int{0}})
	if err != nil {
		return nil, err
	}
	var resp attrMessage
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProtocol, err)
	}
	if resp.Data == nil {
		return nil, nil
	}
	state := State{}
	for k, raw := range resp.Data {
		var v float64
		// non numeric attributes are not part of the state
		if err := json.Unmarshal(raw, &v); err == nil {
			state[k] = v
		}
	}
	return state, nil
}

func (c *DeviceClient) SendCommand(on bool) (bool, error) {
	defer RecordTimer("SendCommand", c.instrument)()
	value := SWITCH_VALUE_OFF
	if on {
		value = SWITCH_VALUE_ON
	}
	_, err := c.request(CMD_SET, setMessage{
		Attr: []int{1},
		Data: map[string]int{KEY_SWITCH: value},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *DeviceClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *DeviceClient) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

func (c *DeviceClient) connectLocked() error {
	if c.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return wrapNetError(err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *DeviceClient) nextSn() string {
	sn := time.Now().UnixMilli()
	if sn <= c.lastSn {
		sn = c.lastSn + 1
	}
	c.lastSn = sn
	return strconv.FormatInt(sn, 10)
}

func (c *DeviceClient) request(cmd int, msg any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	sn := c.nextSn()
	req, err := json.Marshal(frame{Cmd: cmd, Pv: 0, Sn: sn, Msg: payload})
	if err != nil {
		return nil, err
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		c.closeLocked()
		return nil, wrapNetError(err)
	}
	if _, err := c.conn.Write(append(req, '\r', '\n')); err != nil {
		c.closeLocked()
		return nil, wrapNetError(err)
	}

	// devices may push unsolicited frames, skip until our answer shows up
	for i := 0; i < maxFramesPerRequest; i++ {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			c.closeLocked()
			return nil, wrapNetError(err)
		}
		var resp frame
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Debug("cozylife: skipping undecodable frame", zap.ByteString("frame", line))
			continue
		}
		if resp.Cmd != cmd || (resp.Sn != "" && resp.Sn != sn) {
			continue
		}
		if len(resp.Msg) == 0 {
			return json.RawMessage("{}"), nil
		}
		return resp.Msg, nil
	}
	c.closeLocked()
	return nil, fmt.Errorf("%w: no answer to cmd %d", ErrProtocol, cmd)
}

func wrapNetError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %s", ErrConnection, err)
}

// ensure interface compliance
var _ DeviceProxy = (*DeviceClient)(nil)
