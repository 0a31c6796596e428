package configflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseDescriptors(t *testing.T) {

	descriptors, err := ParseDescriptors([]byte(`[{"ip_address": "10.0.0.1", "name": "Lamp", "type": "switch"}, {"ip_address": "10.0.0.2"}]`))
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, Descriptor{IP: "10.0.0.1", Name: "Lamp", Type: "switch"}, descriptors[0])

	_, err = ParseDescriptors([]byte(`[]`))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = ParseDescriptors([]byte(`{"ip_address": "10.0.0.1"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = ParseDescriptors([]byte(`null`))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	_, err = ParseDescriptors([]byte(`[`))
	assert.ErrorIs(t, err, ErrImportFailed)
}

func TestDescriptorRecord(t *testing.T) {

	record, err := Descriptor{IP: " 10.0.0.1 "}.Record()
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceRecord{IP: "10.0.0.1", Name: "10.0.0.1", DeviceType: domain.DEVICE_TYPE_SWITCH}, record)

	record, err = Descriptor{IP: "10.0.0.2", Name: "Fan", DeviceType: "SWITCH", Type: "bulb"}.Record()
	require.NoError(t, err)
	assert.Equal(t, "Fan", record.Name)
	assert.Equal(t, domain.DEVICE_TYPE_SWITCH, record.DeviceType, "device_type wins over type")

	_, err = Descriptor{IP: "10.0.0.3", Type: "bulb"}.Record()
	assert.ErrorIs(t, err, domain.ErrUnsupportedDeviceType)
}

func TestImporterReadFile(t *testing.T) {

	file := filepath.Join(t.TempDir(), "devices.json")
	importer := NewImporter(file, time.Second, zap.NewNop())

	_, err := importer.ReadFile()
	assert.ErrorIs(t, err, ErrFileNotFound)

	require.NoError(t, os.WriteFile(file, []byte(`[{"ip_address": "10.0.0.1"}]`), 0o644))
	descriptors, err := importer.ReadFile()
	require.NoError(t, err)
	assert.Len(t, descriptors, 1)
}

func TestImporterFetchLink(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`[{"ip_address": "10.0.0.1"}]`))
		case "/slow":
			time.Sleep(500 * time.Millisecond)
			w.Write([]byte(`[{"ip_address": "10.0.0.1"}]`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	importer := NewImporter("", 200*time.Millisecond, zap.NewNop())

	descriptors, err := importer.FetchLink(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", descriptors[0].IP)

	_, err = importer.FetchLink(context.Background(), srv.URL+"/boom")
	assert.ErrorIs(t, err, ErrImportFailed)

	_, err = importer.FetchLink(context.Background(), srv.URL+"/slow")
	assert.ErrorIs(t, err, ErrImportFailed)

	_, err = importer.FetchLink(context.Background(), "://not a url")
	assert.ErrorIs(t, err, ErrImportFailed)
}
