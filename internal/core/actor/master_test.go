package actor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/cozylife2mqtt/internal/adapter/actor"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/internal/core/service"
	"github.com/berfenger/cozylife2mqtt/internal/mqtt"
	"github.com/berfenger/cozylife2mqtt/internal/util"
	"github.com/berfenger/cozylife2mqtt/internal/util/actorutil"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	records []domain.DeviceRecord
}

func (s *memStore) Insert(ctx context.Context, record domain.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.IP == record.IP {
			return domain.ErrDuplicateDevice
		}
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memStore) Get(ctx context.Context, ip string) (domain.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.IP == ip {
			return r, nil
		}
	}
	return domain.DeviceRecord{}, domain.ErrRecordNotFound
}

func (s *memStore) List(ctx context.Context) ([]domain.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeviceRecord(nil), s.records...), nil
}

func (s *memStore) Delete(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.IP == ip {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return domain.ErrRecordNotFound
}

func (s *memStore) Close() error {
	return nil
}

// proxyPool hands out one test proxy per ip and platform.
type proxyPool struct {
	mu      sync.Mutex
	proxies map[string][]*cozylife.TestDeviceProxy
}

func (p *proxyPool) factory(ip string) (cozylife.DeviceProxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proxy := cozylife.CreateTestDeviceProxy(cozylife.State{"1": 0, "28": 12})
	p.proxies[ip] = append(p.proxies[ip], proxy)
	return proxy, nil
}

func (p *proxyPool) get(ip string) []*cozylife.TestDeviceProxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*cozylife.TestDeviceProxy(nil), p.proxies[ip]...)
}

type masterFixture struct {
	as       *actor.ActorSystem
	pid      *actor.PID
	notifier *MasterNotifier
	pool     *proxyPool
	mqttMu   sync.Mutex
	mqtt     *adactor.MQTTActor
}

func (f *masterFixture) published() []adactor.PublishedMessage {
	f.mqttMu.Lock()
	defer f.mqttMu.Unlock()
	if f.mqtt == nil {
		return nil
	}
	return f.mqtt.Published()
}

func (f *masterFixture) hasPublished(match func(adactor.PublishedMessage) bool) bool {
	for _, msg := range f.published() {
		if match(msg) {
			return true
		}
	}
	return false
}

func startMaster(t *testing.T, records ...domain.DeviceRecord) *masterFixture {
	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	cfg.Devices.PollIntervalMillis = 50
	cfg.Devices.TimeoutMillis = 1000
	logger := zap.NewNop()

	f := &masterFixture{
		as:   actorutil.NewActorSystemWithZapLogger(logger),
		pool: &proxyPool{proxies: make(map[string][]*cozylife.TestDeviceProxy)},
	}
	store := &memStore{records: records}
	platforms := []port.EntityPlatform{
		service.NewSwitchPlatform(&cfg, f.pool.factory, logger),
		service.NewSensorPlatform(&cfg, f.pool.factory, logger),
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, store, platforms, func(es *eventstream.EventStream) *adactor.MQTTActor {
			act := adactor.NewTestMQTTActor(&cfg, es, logger)
			f.mqttMu.Lock()
			f.mqtt = act
			f.mqttMu.Unlock()
			return act
		}, nil, nil, logger)
	})
	pid, err := f.as.Root.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(t, err)
	f.pid = pid
	f.notifier = NewMasterNotifier(f.as.Root, pid)
	return f
}

func (f *masterFixture) stop() {
	f.as.Root.Stop(f.pid)
	f.as.Shutdown()
}

func TestMasterActorHealth(t *testing.T) {

	f := startMaster(t)
	defer f.stop()

	res, err := f.as.Root.RequestFuture(f.pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")
	assert.Equal(t, "2/2 healthy", healthResp.State)

	// bridge discovery is published once MQTT is up
	assert.Eventually(t, func() bool {
		return f.hasPublished(func(msg adactor.PublishedMessage) bool {
			return strings.HasPrefix(msg.Topic, "homeassistant/binary_sensor/")
		})
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMasterActorSpawnsStoredRecords(t *testing.T) {

	assert := assert.New(t)

	f := startMaster(t, testRecord)
	defer f.stop()

	assert.Eventually(func() bool {
		states, err := f.notifier.EntityStates(testRecord.IP, time.Second)
		return err == nil && len(states) == 2
	}, 2*time.Second, 20*time.Millisecond, "switch and power sensor")

	assert.Len(f.pool.get(testRecord.IP), 2, "one proxy per platform")

	assert.Eventually(func() bool {
		return f.hasPublished(func(msg adactor.PublishedMessage) bool {
			return msg.Topic == "homeassistant/switch/cozylife_192_168_1_60/cozylife_switch_192_168_1_60/config"
		})
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(func() bool {
		return f.hasPublished(func(msg adactor.PublishedMessage) bool {
			return msg.Topic == "cozylife/switch/cozylife_switch_192_168_1_60/state" && msg.Payload == mqtt.MQTT_PAYLOAD_OFF
		})
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(func() bool {
		return f.hasPublished(func(msg adactor.PublishedMessage) bool {
			return msg.Topic == "cozylife/sensor/cozylife_power_192_168_1_60/state" && msg.Payload == "12.0"
		})
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMasterActorRoutesCommands(t *testing.T) {

	assert := assert.New(t)

	f := startMaster(t)
	defer f.stop()

	f.notifier.OnEntryCreated(testRecord)

	assert.Eventually(func() bool {
		return len(f.pool.get(testRecord.IP)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.as.Root.Send(f.pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		ObjectId: "cozylife_switch_192_168_1_60",
		On:       true,
	}})
	// unknown switches are ignored
	f.as.Root.Send(f.pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		ObjectId: "cozylife_switch_10_0_0_1",
		On:       true,
	}})

	assert.Eventually(func() bool {
		for _, proxy := range f.pool.get(testRecord.IP) {
			if log := proxy.CommandLog(); len(log) == 1 && log[0] {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(func() bool {
		return f.hasPublished(func(msg adactor.PublishedMessage) bool {
			return msg.Topic == "cozylife/switch/cozylife_switch_192_168_1_60/state" && msg.Payload == mqtt.MQTT_PAYLOAD_ON
		})
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMasterActorRemovesRecord(t *testing.T) {

	assert := assert.New(t)

	f := startMaster(t, testRecord)
	defer f.stop()

	assert.Eventually(func() bool {
		states, err := f.notifier.EntityStates("", time.Second)
		return err == nil && len(states) == 2
	}, 2*time.Second, 20*time.Millisecond)

	f.notifier.OnEntryRemoved(testRecord.IP)

	assert.Eventually(func() bool {
		for _, proxy := range f.pool.get(testRecord.IP) {
			if !proxy.IsClosed() {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "proxies closed")

	assert.Eventually(func() bool {
		return f.hasPublished(func(msg adactor.PublishedMessage) bool {
			return msg.Topic == "homeassistant/switch/cozylife_192_168_1_60/cozylife_switch_192_168_1_60/config" && msg.Payload == ""
		})
	}, 2*time.Second, 10*time.Millisecond, "discovery cleared")

	states, err := f.notifier.EntityStates(testRecord.IP, time.Second)
	assert.NoError(err)
	assert.Empty(states)

	// let the retired actors terminate before reusing their names
	time.Sleep(100 * time.Millisecond)
	f.notifier.OnEntryCreated(testRecord)
	assert.Eventually(func() bool {
		return len(f.pool.get(testRecord.IP)) == 4
	}, 2*time.Second, 10*time.Millisecond)
}
