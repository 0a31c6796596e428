package configflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/adapter/store"
	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/util"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingObserver struct {
	mu      sync.Mutex
	created []domain.DeviceRecord
	removed []string
}

func (o *recordingObserver) OnEntryCreated(record domain.DeviceRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, record)
}

func (o *recordingObserver) OnEntryRemoved(ip string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, ip)
}

func (o *recordingObserver) createdIPs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ips []string
	for _, r := range o.created {
		ips = append(ips, r.IP)
	}
	return ips
}

type flowFixture struct {
	manager  *FlowManager
	store    *store.SQLiteStore
	jobs     *JobQueue
	observer *recordingObserver

	mu      sync.Mutex
	offline map[string]bool
	slow    map[string]bool
	delay   time.Duration
}

func newFlowFixture(t *testing.T, mutate func(cfg *config.Config)) *flowFixture {
	cfg := util.LoadTestConfig()
	cfg.Devices.TimeoutMillis = 200
	cfg.Import.File = filepath.Join(t.TempDir(), "devices.json")
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zap.NewNop()

	st, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	jobs, err := NewJobQueue(2, logger)
	require.NoError(t, err)

	f := &flowFixture{
		store:    st,
		jobs:     jobs,
		observer: &recordingObserver{},
		offline:  make(map[string]bool),
		slow:     make(map[string]bool),
	}
	f.manager = NewFlowManager(&cfg, st, f.proxyFactory, jobs, f.observer, logger)
	t.Cleanup(func() {
		jobs.Stop()
		st.Close()
	})
	return f
}

func (f *flowFixture) proxyFactory(ip string) (cozylife.DeviceProxy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	proxy := cozylife.CreateTestDeviceProxy(cozylife.State{"1": 0})
	proxy.SetOnline(!f.offline[ip])
	switch {
	case f.slow[ip]:
		proxy.SetDelay(time.Second)
	case f.delay > 0:
		proxy.SetDelay(f.delay)
	}
	return proxy, nil
}

func (f *flowFixture) setOffline(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline[ip] = true
}

func (f *flowFixture) setSlow(ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slow[ip] = true
}

func (f *flowFixture) storedIPs(t *testing.T) []string {
	records, err := f.store.List(context.Background())
	require.NoError(t, err)
	var ips []string
	for _, r := range records {
		ips = append(ips, r.IP)
	}
	return ips
}

func (f *flowFixture) startFlow(t *testing.T, mode string) FlowResult {
	res, err := f.manager.Init(context.Background(), SOURCE_USER, nil)
	require.NoError(t, err)
	require.Equal(t, RESULT_TYPE_FORM, res.Type)
	require.Equal(t, STEP_START, res.StepId)

	res, err = f.manager.Configure(context.Background(), res.FlowId, map[string]any{domain.CONF_MODE: mode})
	require.NoError(t, err)
	return res
}

func TestManualFlow(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := newFlowFixture(t, nil)
	f.setOffline("192.168.1.99")

	res := f.startFlow(t, MODE_MANUAL)
	require.Equal(RESULT_TYPE_FORM, res.Type)
	assert.Equal(STEP_MANUAL, res.StepId)
	flowId := res.FlowId

	res, err := f.manager.Configure(ctx, flowId, map[string]any{})
	require.NoError(err)
	assert.Equal(map[string]string{domain.CONF_IP_ADDRESS: ERROR_REQUIRED}, res.Errors)

	res, err = f.manager.Configure(ctx, flowId, map[string]any{domain.CONF_IP_ADDRESS: "192.168.1.60", domain.CONF_TYPE: "dimmer"})
	require.NoError(err)
	assert.Equal(map[string]string{domain.CONF_TYPE: ERROR_INVALID_DEVICE_TYPE}, res.Errors)

	res, err = f.manager.Configure(ctx, flowId, map[string]any{domain.CONF_IP_ADDRESS: "192.168.1.99", domain.CONF_TYPE: "switch"})
	require.NoError(err)
	assert.Equal(RESULT_TYPE_FORM, res.Type)
	assert.Equal(map[string]string{ERROR_BASE: ERROR_CANNOT_CONNECT}, res.Errors)
	assert.False(f.manager.Claims().Claimed(ctx, "192.168.1.99"), "failed test keeps no claim")

	res, err = f.manager.Configure(ctx, flowId, map[string]any{domain.CONF_IP_ADDRESS: " 192.168.1.60 ", domain.CONF_TYPE: "switch", domain.CONF_NAME: "Lamp"})
	require.NoError(err)
	assert.Equal(RESULT_TYPE_CREATE_ENTRY, res.Type)
	assert.Equal("Lamp", res.Title)
	require.NotNil(res.Data)
	assert.Equal("192.168.1.60", res.Data.IP)
	assert.False(res.Data.CreatedAt.IsZero())

	assert.Equal([]string{"192.168.1.60"}, f.storedIPs(t))
	assert.Equal([]string{"192.168.1.60"}, f.observer.createdIPs())

	// terminal results close the flow
	_, err = f.manager.Configure(ctx, flowId, map[string]any{})
	assert.ErrorIs(err, ErrFlowNotFound)

	// same ip again
	res = f.startFlow(t, MODE_MANUAL)
	res, err = f.manager.Configure(ctx, res.FlowId, map[string]any{domain.CONF_IP_ADDRESS: "192.168.1.60"})
	require.NoError(err)
	assert.Equal(RESULT_TYPE_ABORT, res.Type)
	assert.Equal(ABORT_ALREADY_CONFIGURED, res.Reason)
	assert.Len(f.observer.createdIPs(), 1)
}

func TestManualFlowUnnamedTitle(t *testing.T) {

	f := newFlowFixture(t, nil)

	res := f.startFlow(t, MODE_MANUAL)
	res, err := f.manager.Configure(context.Background(), res.FlowId, map[string]any{domain.CONF_IP_ADDRESS: "10.0.0.8"})
	require.NoError(t, err)
	assert.Equal(t, RESULT_TYPE_CREATE_ENTRY, res.Type)
	assert.Equal(t, "10.0.0.8", res.Title)
	assert.Equal(t, domain.DEVICE_TYPE_SWITCH, res.Data.DeviceType)
}

func TestManualFlowTimeout(t *testing.T) {

	f := newFlowFixture(t, nil)
	f.setSlow("10.0.0.9")

	res := f.startFlow(t, MODE_MANUAL)
	start := time.Now()
	res, err := f.manager.Configure(context.Background(), res.FlowId, map[string]any{domain.CONF_IP_ADDRESS: "10.0.0.9"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "connection test is bounded")
	assert.Equal(t, map[string]string{ERROR_BASE: ERROR_CANNOT_CONNECT}, res.Errors)
}

func TestStartFlowInvalidMode(t *testing.T) {

	f := newFlowFixture(t, nil)

	res := f.startFlow(t, "from_carrier_pigeon")
	assert.Equal(t, RESULT_TYPE_FORM, res.Type)
	assert.Equal(t, STEP_START, res.StepId)
	assert.Equal(t, map[string]string{domain.CONF_MODE: ERROR_INVALID_MODE}, res.Errors)

	_, err := f.manager.Configure(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = f.manager.Init(context.Background(), "zeroconf", nil)
	assert.Error(t, err)
}

func TestImportFromFile(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	var file string
	f := newFlowFixture(t, func(cfg *config.Config) {
		file = cfg.Import.File
	})
	require.NoError(f.store.Insert(ctx, domain.DeviceRecord{IP: "10.0.0.1", DeviceType: domain.DEVICE_TYPE_SWITCH}))
	f.setOffline("10.0.0.3")

	require.NoError(os.WriteFile(file, []byte(`[
		{"ip_address": "10.0.0.1", "name": "Stored"},
		{"ip_address": "10.0.0.2", "name": "Kitchen", "device_type": "switch"},
		{"ip_address": "10.0.0.3"},
		{"ip_address": "10.0.0.4", "device_type": "bulb"},
		{"ip_address": ""},
		{"ip_address": "10.0.0.2"}
	]`), 0o644))

	res := f.startFlow(t, MODE_FROM_FILE)
	assert.Equal(RESULT_TYPE_ABORT, res.Type)
	assert.Equal(ABORT_IMPORT_SUCCESS, res.Reason)
	assert.Equal(2, res.Scheduled)

	f.jobs.Wait()
	assert.ElementsMatch([]string{"10.0.0.1", "10.0.0.2"}, f.storedIPs(t))
	assert.Equal([]string{"10.0.0.2"}, f.observer.createdIPs())

	record, err := f.store.Get(ctx, "10.0.0.2")
	require.NoError(err)
	assert.Equal("Kitchen", record.Name)

	assert.False(f.manager.Claims().Claimed(ctx, "10.0.0.3"), "failed import releases its claim")

	// running it again finds nothing new but the offline device
	res = f.startFlow(t, MODE_FROM_FILE)
	assert.Equal(ABORT_IMPORT_SUCCESS, res.Reason)
	assert.Equal(1, res.Scheduled)
	f.jobs.Wait()
}

func TestImportMoreDevicesThanWorkers(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	var file string
	f := newFlowFixture(t, func(cfg *config.Config) {
		file = cfg.Import.File
	})
	// slower than quartz's default outdated threshold, within the device timeout
	f.delay = 150 * time.Millisecond

	require.NoError(t, os.WriteFile(file, []byte(`[
		{"ip_address": "10.0.1.1"}, {"ip_address": "10.0.1.2"}, {"ip_address": "10.0.1.3"},
		{"ip_address": "10.0.1.4"}, {"ip_address": "10.0.1.5"}, {"ip_address": "10.0.1.6"}
	]`), 0o644))

	res := f.startFlow(t, MODE_FROM_FILE)
	assert.Equal(ABORT_IMPORT_SUCCESS, res.Reason)
	assert.Equal(6, res.Scheduled)

	waitJobs(t, f.jobs)
	assert.Len(f.storedIPs(t), 6)
	for _, ip := range f.storedIPs(t) {
		assert.True(f.manager.Claims().Claimed(ctx, ip))
	}
}

func TestImportReleasesClaimsWhenQueueStopped(t *testing.T) {

	ctx := context.Background()
	var file string
	f := newFlowFixture(t, func(cfg *config.Config) {
		file = cfg.Import.File
	})
	require.NoError(t, os.WriteFile(file, []byte(`[{"ip_address": "10.0.2.1"}]`), 0o644))
	f.jobs.Stop()

	res := f.startFlow(t, MODE_FROM_FILE)
	assert.Equal(t, ABORT_NO_NEW_DEVICES, res.Reason)
	assert.False(t, f.manager.Claims().Claimed(ctx, "10.0.2.1"))
}

func TestAbandonedFlowsAreForgotten(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()
	f := newFlowFixture(t, nil)

	var mu sync.Mutex
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(d)
	}
	openFlows := func() int {
		f.manager.mu.Lock()
		defer f.manager.mu.Unlock()
		return len(f.manager.flows)
	}

	abandoned, err := f.manager.Init(ctx, SOURCE_USER, nil)
	require.NoError(t, err)
	active, err := f.manager.Init(ctx, SOURCE_USER, nil)
	require.NoError(t, err)

	advance(flowTTL / 2)
	_, err = f.manager.Configure(ctx, active.FlowId, map[string]any{domain.CONF_MODE: MODE_MANUAL})
	require.NoError(t, err)

	advance(flowTTL/2 + time.Minute)
	_, err = f.manager.Configure(ctx, abandoned.FlowId, map[string]any{domain.CONF_MODE: MODE_MANUAL})
	assert.ErrorIs(err, ErrFlowNotFound, "untouched flow expired")

	res, err := f.manager.Configure(ctx, active.FlowId, map[string]any{domain.CONF_IP_ADDRESS: "10.0.3.1"})
	require.NoError(t, err)
	assert.Equal(RESULT_TYPE_CREATE_ENTRY, res.Type, "recently used flow survives")

	for i := 0; i < maxOpenFlows+10; i++ {
		_, err := f.manager.Init(ctx, SOURCE_USER, nil)
		require.NoError(t, err)
	}
	assert.Equal(maxOpenFlows, openFlows())
}

func TestImportFromFileFailures(t *testing.T) {

	var file string
	f := newFlowFixture(t, func(cfg *config.Config) {
		file = cfg.Import.File
	})

	res := f.startFlow(t, MODE_FROM_FILE)
	assert.Equal(t, ABORT_FILE_NOT_FOUND, res.Reason)

	cases := []struct {
		payload string
		reason  string
	}{
		{`[]`, ABORT_EMPTY_OR_INVALID_FILE},
		{`{"a": 1}`, ABORT_EMPTY_OR_INVALID_FILE},
		{`not json`, ABORT_FILE_IMPORT_FAILED},
		{`[1, 2, 3]`, ABORT_FILE_IMPORT_FAILED},
		{`[{"ip_address": "10.0.0.1"}]`, ABORT_IMPORT_SUCCESS},
	}
	for _, c := range cases {
		require.NoError(t, os.WriteFile(file, []byte(c.payload), 0o644))
		res := f.startFlow(t, MODE_FROM_FILE)
		assert.Equal(t, RESULT_TYPE_ABORT, res.Type, c.payload)
		assert.Equal(t, c.reason, res.Reason, c.payload)
	}
	f.jobs.Wait()
}

func TestImportNoNewDevices(t *testing.T) {

	ctx := context.Background()
	var file string
	f := newFlowFixture(t, func(cfg *config.Config) {
		file = cfg.Import.File
	})
	require.NoError(t, f.store.Insert(ctx, domain.DeviceRecord{IP: "10.0.0.1", DeviceType: domain.DEVICE_TYPE_SWITCH}))
	require.NoError(t, os.WriteFile(file, []byte(`[{"ip_address": "10.0.0.1"}]`), 0o644))

	res := f.startFlow(t, MODE_FROM_FILE)
	assert.Equal(t, ABORT_NO_NEW_DEVICES, res.Reason)
	assert.Empty(t, f.observer.createdIPs())
}

func TestImportFromLink(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cozy.json":
			w.Write([]byte(`[{"ip_address": "10.0.1.1", "name": "Porch"}, {"ip_address": "10.0.1.2"}]`))
		case "/empty.json":
			w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newFlowFixture(t, func(cfg *config.Config) {
		cfg.Import.DefaultLink = srv.URL + "/cozy.json"
	})

	res := f.startFlow(t, MODE_FROM_LINK)
	require.Equal(RESULT_TYPE_FORM, res.Type)
	assert.Equal(STEP_IMPORT_LINK, res.StepId)
	require.Len(res.Schema, 1)
	assert.Equal(srv.URL+"/cozy.json", res.Schema[0].Default)
	flowId := res.FlowId

	// unreachable link keeps the form open
	res, err := f.manager.Configure(ctx, flowId, map[string]any{domain.CONF_LINK: srv.URL + "/missing.json"})
	require.NoError(err)
	assert.Equal(RESULT_TYPE_FORM, res.Type)
	assert.Equal(map[string]string{ERROR_BASE: ERROR_LINK_ERROR}, res.Errors)

	// empty link falls back to the default
	res, err = f.manager.Configure(ctx, flowId, map[string]any{domain.CONF_LINK: ""})
	require.NoError(err)
	assert.Equal(ABORT_IMPORT_SUCCESS, res.Reason)
	assert.Equal(2, res.Scheduled)

	f.jobs.Wait()
	assert.ElementsMatch([]string{"10.0.1.1", "10.0.1.2"}, f.storedIPs(t))
	record, err := f.store.Get(ctx, "10.0.1.2")
	require.NoError(err)
	assert.Equal("10.0.1.2", record.Name, "name defaults to the ip")

	res = f.startFlow(t, MODE_FROM_LINK)
	res, err = f.manager.Configure(ctx, res.FlowId, map[string]any{domain.CONF_LINK: srv.URL + "/empty.json"})
	require.NoError(err)
	assert.Equal(RESULT_TYPE_ABORT, res.Type)
	assert.Equal(ABORT_EMPTY_OR_INVALID_FILE, res.Reason)
}

func TestImportSource(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	f := newFlowFixture(t, nil)
	f.setOffline("10.0.2.3")

	res, err := f.manager.Init(ctx, SOURCE_IMPORT, map[string]any{domain.CONF_IP_ADDRESS: "10.0.2.1", domain.CONF_NAME: "Desk"})
	assert.NoError(err)
	assert.Equal(RESULT_TYPE_CREATE_ENTRY, res.Type)
	assert.Equal(SOURCE_IMPORT, res.Source)
	assert.Equal("Desk", res.Title)

	res, err = f.manager.Init(ctx, SOURCE_IMPORT, map[string]any{domain.CONF_IP_ADDRESS: "10.0.2.1"})
	assert.NoError(err)
	assert.Equal(ABORT_ALREADY_CONFIGURED, res.Reason)

	res, err = f.manager.Init(ctx, SOURCE_IMPORT, map[string]any{domain.CONF_IP_ADDRESS: "10.0.2.3"})
	assert.NoError(err)
	assert.Equal(ABORT_CANNOT_CONNECT, res.Reason)

	res, err = f.manager.Init(ctx, SOURCE_IMPORT, map[string]any{domain.CONF_IP_ADDRESS: "10.0.2.4", domain.CONF_TYPE: "bulb"})
	assert.NoError(err)
	assert.Equal(ABORT_UNKNOWN, res.Reason)
	assert.False(f.manager.Claims().Claimed(ctx, "10.0.2.4"))
}

func TestRemoveEntry(t *testing.T) {

	ctx := context.Background()
	f := newFlowFixture(t, nil)

	_, err := f.manager.Init(ctx, SOURCE_IMPORT, map[string]any{domain.CONF_IP_ADDRESS: "10.0.3.1"})
	require.NoError(t, err)

	entries, err := f.manager.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, f.manager.RemoveEntry(ctx, "10.0.3.1"))
	assert.ErrorIs(t, f.manager.RemoveEntry(ctx, "10.0.3.1"), domain.ErrRecordNotFound)
	assert.Equal(t, []string{"10.0.3.1"}, f.observer.removed)

	// the ip can be configured again
	res, err := f.manager.Init(ctx, SOURCE_IMPORT, map[string]any{domain.CONF_IP_ADDRESS: "10.0.3.1"})
	require.NoError(t, err)
	assert.Equal(t, RESULT_TYPE_CREATE_ENTRY, res.Type)
}
