package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

const (
	MEASUREMENT_SENSOR = "cozylife_sensor"
	MEASUREMENT_SWITCH = "cozylife_switch"

	pingTimeout = 5 * time.Second
)

var (
	ErrDisabled         = errors.New("influx: sink disabled")
	ErrConnectionFailed = errors.New("influx: connection failed")
)

// Writer is a non-blocking, batched InfluxDB measurement sink.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger
}

func NewWriter(cfg config.InfluxConfig, logger *zap.Logger) (*Writer, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, influxdb2.DefaultOptions().SetBatchSize(50))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.With(zap.String("component", "influx")),
	}
	go w.handleWriteErrors(w.writeAPI.Errors())
	return w, nil
}

func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.logger.Warn("influx write failed", zap.Error(err))
	}
}

func (w *Writer) WriteMeasurement(event domain.FloatSensorUpdateEvent, at time.Time) {
	w.writeAPI.WritePoint(SensorPoint(event, at))
}

func (w *Writer) WriteSwitchState(event domain.SwitchSensorUpdateEvent, at time.Time) {
	w.writeAPI.WritePoint(SwitchPoint(event, at))
}

func (w *Writer) Flush() {
	w.writeAPI.Flush()
}

func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

func SensorPoint(event domain.FloatSensorUpdateEvent, at time.Time) *write.Point {
	return write.NewPoint(
		MEASUREMENT_SENSOR,
		map[string]string{
			"entity": event.Id,
			"ip":     event.DeviceIP,
			"kind":   event.Kind,
			"unit":   event.Unit,
		},
		map[string]interface{}{
			"value": event.Value,
		},
		at,
	)
}

func SwitchPoint(event domain.SwitchSensorUpdateEvent, at time.Time) *write.Point {
	return write.NewPoint(
		MEASUREMENT_SWITCH,
		map[string]string{
			"entity": event.Id,
			"ip":     event.DeviceIP,
		},
		map[string]interface{}{
			"on": event.Value,
		},
		at,
	)
}

// ensure interface compliance
var _ port.MeasurementWriter = (*Writer)(nil)
