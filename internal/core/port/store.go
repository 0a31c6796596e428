package port

import (
	"context"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
)

// RecordStore persists device records keyed by ip.
type RecordStore interface {
	// Insert fails with domain.ErrDuplicateDevice when the ip is already stored.
	Insert(ctx context.Context, record domain.DeviceRecord) error
	// Get fails with domain.ErrRecordNotFound.
	Get(ctx context.Context, ip string) (domain.DeviceRecord, error)
	List(ctx context.Context) ([]domain.DeviceRecord, error)
	// Delete fails with domain.ErrRecordNotFound.
	Delete(ctx context.Context, ip string) error
	Close() error
}

// RecordObserver is notified after a record was persisted or removed.
type RecordObserver interface {
	OnEntryCreated(record domain.DeviceRecord)
	OnEntryRemoved(ip string)
}

type NopRecordObserver struct{}

func (NopRecordObserver) OnEntryCreated(domain.DeviceRecord) {}

func (NopRecordObserver) OnEntryRemoved(string) {}
