package configflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

var (
	// ErrFileNotFound is returned when the import file does not exist.
	ErrFileNotFound = errors.New("configflow: import file not found")

	// ErrImportFailed is returned when the import payload cannot be read or decoded.
	ErrImportFailed = errors.New("configflow: import failed")
)

// Descriptor is one device entry of an import file or link.
type Descriptor struct {
	IP         string `json:"ip_address"`
	Name       string `json:"name,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Record builds the record to persist. The name defaults to the ip.
func (d Descriptor) Record() (domain.DeviceRecord, error) {
	rawType := d.DeviceType
	if rawType == "" {
		rawType = d.Type
	}
	deviceType, err := domain.ParseDeviceType(rawType)
	if err != nil {
		return domain.DeviceRecord{}, err
	}
	ip := strings.TrimSpace(d.IP)
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = ip
	}
	return domain.DeviceRecord{
		IP:         ip,
		Name:       name,
		DeviceType: deviceType,
	}, nil
}

// ParseDescriptors decodes an import payload. A payload that is not a non-empty JSON array
// fails with domain.ErrMalformedInput; undecodable JSON or elements that are not descriptors
// fail with ErrImportFailed.
func ParseDescriptors(payload []byte) ([]Descriptor, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: device list is empty or not an array", domain.ErrMalformedInput)
	}
	var descriptors []Descriptor
	if err := json.Unmarshal(payload, &descriptors); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	return descriptors, nil
}

// Importer loads device descriptors from the local import file or a remote link.
type Importer struct {
	file   string
	client *http.Client
	logger *zap.Logger
}

func NewImporter(file string, linkTimeout time.Duration, logger *zap.Logger) *Importer {
	return &Importer{
		file: file,
		client: &http.Client{
			Timeout: linkTimeout,
		},
		logger: logger,
	}
}

func (i *Importer) ReadFile() ([]Descriptor, error) {
	payload, err := os.ReadFile(i.file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, i.file)
		}
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	return ParseDescriptors(payload)
}

// FetchLink downloads descriptors with an HTTP GET. Any status other than 200 is an error.
func (i *Importer) FetchLink(ctx context.Context, link string) ([]Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrImportFailed, resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	i.logger.Debug("import link fetched", zap.String("link", link), zap.Int("bytes", len(payload)))
	return ParseDescriptors(payload)
}
