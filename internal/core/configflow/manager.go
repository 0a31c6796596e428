package configflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/pkg/cozylife"

	"github.com/google/uuid"
	"github.com/primetalk/goio/io"
	"go.uber.org/zap"
)

const (
	// open form flows untouched for this long are forgotten
	flowTTL = 30 * time.Minute
	// beyond this many open flows the least recently used one is forgotten
	maxOpenFlows = 128
)

// FlowManager drives configuration flows and owns the record lifecycle.
type FlowManager struct {
	store        port.RecordStore
	claims       *ClaimRegistry
	proxyFactory port.ProxyFactory
	importer     *Importer
	jobs         *JobQueue
	observer     port.RecordObserver
	defaultLink  string
	testTimeout  time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	flows map[string]*flow
	now   func() time.Time
}

func NewFlowManager(cfg *config.Config, store port.RecordStore, proxyFactory port.ProxyFactory, jobs *JobQueue,
	observer port.RecordObserver, logger *zap.Logger) *FlowManager {
	if observer == nil {
		observer = port.NopRecordObserver{}
	}
	testTimeout := time.Duration(cfg.Devices.TimeoutMillis) * time.Millisecond
	if testTimeout <= 0 {
		testTimeout = cozylife.DefaultTimeout
	}
	logger = logger.With(zap.String("component", "configflow"))
	return &FlowManager{
		store:        store,
		claims:       NewClaimRegistry(store),
		proxyFactory: proxyFactory,
		importer:     NewImporter(cfg.Import.File, time.Duration(cfg.Import.LinkTimeoutMillis)*time.Millisecond, logger),
		jobs:         jobs,
		observer:     observer,
		defaultLink:  cfg.Import.DefaultLink,
		testTimeout:  testTimeout,
		logger:       logger,
		flows:        make(map[string]*flow),
		now:          time.Now,
	}
}

// Init starts a flow. A user flow shows the start form; an import flow runs the manual step
// with data and assumes the ip claim is already held by flowId.
func (m *FlowManager) Init(ctx context.Context, source string, data map[string]any) (FlowResult, error) {
	switch source {
	case SOURCE_USER, "":
		f := &flow{id: uuid.NewString(), source: SOURCE_USER}
		m.put(f)
		return f.form(STEP_START, startSchema(), nil), nil
	case SOURCE_IMPORT:
		desc := Descriptor{
			IP:         stringField(data, domain.CONF_IP_ADDRESS),
			Name:       stringField(data, domain.CONF_NAME),
			DeviceType: stringField(data, domain.CONF_DEVICE_TYPE),
			Type:       stringField(data, domain.CONF_TYPE),
		}
		f := &flow{id: uuid.NewString(), source: SOURCE_IMPORT, step: STEP_MANUAL}
		if err := m.claims.Claim(ctx, strings.TrimSpace(desc.IP), f.id); err != nil {
			if errors.Is(err, domain.ErrDuplicateDevice) {
				return f.abort(ABORT_ALREADY_CONFIGURED), nil
			}
			return FlowResult{}, err
		}
		return m.runImport(ctx, f, desc), nil
	default:
		return FlowResult{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// Configure submits user input to the current step of a flow.
func (m *FlowManager) Configure(ctx context.Context, flowId string, input map[string]any) (FlowResult, error) {
	f, ok := m.get(flowId)
	if !ok {
		return FlowResult{}, fmt.Errorf("%w: %s", ErrFlowNotFound, flowId)
	}

	var result FlowResult
	switch f.step {
	case STEP_START:
		result = m.stepStart(ctx, f, input)
	case STEP_MANUAL:
		result = m.stepManual(ctx, f, input)
	case STEP_IMPORT_LINK:
		result = m.stepImportLink(ctx, f, input)
	default:
		result = f.abort(ABORT_UNKNOWN)
	}
	if result.Terminal() {
		m.remove(f.id)
	}
	return result, nil
}

func (m *FlowManager) stepStart(ctx context.Context, f *flow, input map[string]any) FlowResult {
	mode := stringField(input, domain.CONF_MODE)
	if mode == "" {
		mode = MODE_MANUAL
	}
	switch mode {
	case MODE_MANUAL:
		return f.form(STEP_MANUAL, manualSchema(), nil)
	case MODE_FROM_FILE:
		return m.importFromFile(ctx, f)
	case MODE_FROM_LINK:
		return f.form(STEP_IMPORT_LINK, linkSchema(m.defaultLink), nil)
	default:
		return f.form(STEP_START, startSchema(), map[string]string{domain.CONF_MODE: ERROR_INVALID_MODE})
	}
}

func (m *FlowManager) stepManual(ctx context.Context, f *flow, input map[string]any) FlowResult {
	ip := stringField(input, domain.CONF_IP_ADDRESS)
	if ip == "" {
		return f.form(STEP_MANUAL, manualSchema(), map[string]string{domain.CONF_IP_ADDRESS: ERROR_REQUIRED})
	}
	deviceType, err := domain.ParseDeviceType(stringField(input, domain.CONF_TYPE))
	if err != nil {
		return f.form(STEP_MANUAL, manualSchema(), map[string]string{domain.CONF_TYPE: ERROR_INVALID_DEVICE_TYPE})
	}

	if !m.testConnection(ip) {
		return f.form(STEP_MANUAL, manualSchema(), baseError(ERROR_CANNOT_CONNECT))
	}

	if err := m.claims.Claim(ctx, ip, f.id); err != nil {
		if errors.Is(err, domain.ErrDuplicateDevice) {
			return f.abort(ABORT_ALREADY_CONFIGURED)
		}
		m.logger.Error("claim failed", zap.String("ip", ip), zap.Error(err))
		return f.abort(ABORT_UNKNOWN)
	}

	record := domain.DeviceRecord{
		IP:         ip,
		Name:       stringField(input, domain.CONF_NAME),
		DeviceType: deviceType,
	}
	return m.commit(ctx, f, record)
}

// runImport is the import sub-flow: the manual step with descriptor data, run while the
// flow already owns the ip claim.
func (m *FlowManager) runImport(ctx context.Context, f *flow, desc Descriptor) FlowResult {
	record, err := desc.Record()
	if err != nil {
		m.claims.Release(strings.TrimSpace(desc.IP), f.id)
		return f.abort(ABORT_UNKNOWN)
	}
	if !m.testConnection(record.IP) {
		m.claims.Release(record.IP, f.id)
		return f.abort(ABORT_CANNOT_CONNECT)
	}
	return m.commit(ctx, f, record)
}

func (m *FlowManager) commit(ctx context.Context, f *flow, record domain.DeviceRecord) FlowResult {
	record.CreatedAt = time.Now().UTC()
	if err := m.claims.Commit(ctx, record, f.id); err != nil {
		m.claims.Release(record.IP, f.id)
		if errors.Is(err, domain.ErrDuplicateDevice) {
			return f.abort(ABORT_ALREADY_CONFIGURED)
		}
		m.logger.Error("could not persist record", zap.String("ip", record.IP), zap.Error(err))
		return f.abort(ABORT_UNKNOWN)
	}
	m.logger.Info("device configured", zap.String("ip", record.IP), zap.String("title", record.Title()), zap.String("source", f.source))
	m.observer.OnEntryCreated(record)
	return f.createEntry(record)
}

func (m *FlowManager) importFromFile(ctx context.Context, f *flow) FlowResult {
	descriptors, err := m.importer.ReadFile()
	switch {
	case errors.Is(err, ErrFileNotFound):
		m.logger.Error("import file not found", zap.Error(err))
		return f.abort(ABORT_FILE_NOT_FOUND)
	case errors.Is(err, domain.ErrMalformedInput):
		m.logger.Warn("device list is empty or malformed", zap.Error(err))
		return f.abort(ABORT_EMPTY_OR_INVALID_FILE)
	case err != nil:
		m.logger.Error("failed to load devices from file", zap.Error(err))
		return f.abort(ABORT_FILE_IMPORT_FAILED)
	}
	return m.importDevices(ctx, f, descriptors)
}

func (m *FlowManager) stepImportLink(ctx context.Context, f *flow, input map[string]any) FlowResult {
	link := stringField(input, domain.CONF_LINK)
	if link == "" {
		link = m.defaultLink
	}
	descriptors, err := m.importer.FetchLink(ctx, link)
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		m.logger.Warn("device list is empty or malformed", zap.String("link", link), zap.Error(err))
		return f.abort(ABORT_EMPTY_OR_INVALID_FILE)
	case err != nil:
		m.logger.Error("failed to import devices from link", zap.String("link", link), zap.Error(err))
		return f.form(STEP_IMPORT_LINK, linkSchema(m.defaultLink), baseError(ERROR_LINK_ERROR))
	}
	return m.importDevices(ctx, f, descriptors)
}

// importDevices claims every new ip and hands it to an import sub-flow on the job queue.
// Already claimed ips are skipped without error. The step always aborts.
func (m *FlowManager) importDevices(ctx context.Context, f *flow, descriptors []Descriptor) FlowResult {
	count := 0
	for _, desc := range descriptors {
		ip := strings.TrimSpace(desc.IP)
		if ip == "" {
			continue
		}
		if _, err := desc.Record(); err != nil {
			m.logger.Warn("skipping device", zap.String("ip", ip), zap.Error(err))
			continue
		}

		sub := &flow{id: uuid.NewString(), source: SOURCE_IMPORT, step: STEP_MANUAL}
		if err := m.claims.Claim(ctx, ip, sub.id); err != nil {
			if !errors.Is(err, domain.ErrDuplicateDevice) {
				m.logger.Error("claim failed", zap.String("ip", ip), zap.Error(err))
			}
			continue
		}

		desc := desc
		err := m.jobs.Submit("import "+ip, func(jobCtx context.Context) error {
			result := m.runImport(jobCtx, sub, desc)
			if result.Type == RESULT_TYPE_ABORT {
				return fmt.Errorf("import of %s aborted: %s", desc.IP, result.Reason)
			}
			return nil
		}, func() {
			m.claims.Release(ip, sub.id)
		})
		if err != nil {
			m.claims.Release(ip, sub.id)
			m.logger.Error("could not schedule import", zap.String("ip", ip), zap.Error(err))
			continue
		}
		count++
	}

	if count == 0 {
		return f.abort(ABORT_NO_NEW_DEVICES)
	}
	result := f.abort(ABORT_IMPORT_SUCCESS)
	result.Scheduled = count
	return result
}

// testConnection runs the blocking connection test bounded by the device timeout.
func (m *FlowManager) testConnection(ip string) bool {
	proxy, err := m.proxyFactory(ip)
	if err != nil {
		m.logger.Error("error connecting to device", zap.String("ip", ip), zap.Error(err))
		return false
	}
	defer proxy.Close()

	result := io.RunSync(io.WithTimeout[bool](m.testTimeout)(io.Eval(proxy.TestConnection)))
	if result.Error != nil {
		m.logger.Error("error connecting to device", zap.String("ip", ip), zap.Error(result.Error))
		return false
	}
	return result.Value
}

// Entries lists the stored records.
func (m *FlowManager) Entries(ctx context.Context) ([]domain.DeviceRecord, error) {
	return m.store.List(ctx)
}

// RemoveEntry deletes the record of ip and notifies the observer.
func (m *FlowManager) RemoveEntry(ctx context.Context, ip string) error {
	if err := m.store.Delete(ctx, ip); err != nil {
		return err
	}
	m.logger.Info("device removed", zap.String("ip", ip))
	m.observer.OnEntryRemoved(ip)
	return nil
}

// Claims exposes the uniqueness registry shared by all flows.
func (m *FlowManager) Claims() *ClaimRegistry {
	return m.claims
}

func (m *FlowManager) put(f *flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.evictLocked(now)
	f.touched = now
	m.flows[f.id] = f
}

func (m *FlowManager) get(id string) (*flow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.evictLocked(now)
	f, ok := m.flows[id]
	if ok {
		f.touched = now
	}
	return f, ok
}

// evictLocked drops expired flows and makes room for one more.
func (m *FlowManager) evictLocked(now time.Time) {
	var oldest *flow
	for id, f := range m.flows {
		if now.Sub(f.touched) > flowTTL {
			m.logger.Debug("flow expired", zap.String("flow_id", id), zap.String("step", f.step))
			delete(m.flows, id)
			continue
		}
		if oldest == nil || f.touched.Before(oldest.touched) {
			oldest = f
		}
	}
	if len(m.flows) >= maxOpenFlows && oldest != nil {
		m.logger.Debug("flow evicted", zap.String("flow_id", oldest.id), zap.String("step", oldest.step))
		delete(m.flows, oldest.id)
	}
}

func (m *FlowManager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flows, id)
}

func stringField(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	switch v := input[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
