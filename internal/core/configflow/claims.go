package configflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
)

// ClaimRegistry holds the uniqueness claims on device ips. An ip is claimed when a record is
// stored for it or when an in-flight flow owns it.
type ClaimRegistry struct {
	mu       sync.Mutex
	store    port.RecordStore
	inFlight map[string]string
}

func NewClaimRegistry(store port.RecordStore) *ClaimRegistry {
	return &ClaimRegistry{
		store:    store,
		inFlight: make(map[string]string),
	}
}

// Claim takes the ip for owner. It fails with domain.ErrDuplicateDevice when the ip is stored or
// held by another owner.
func (c *ClaimRegistry) Claim(ctx context.Context, ip string, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if holder, ok := c.inFlight[ip]; ok {
		if holder == owner {
			return nil
		}
		return fmt.Errorf("%w: %s is being configured", domain.ErrDuplicateDevice, ip)
	}
	_, err := c.store.Get(ctx, ip)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", domain.ErrDuplicateDevice, ip)
	case !errors.Is(err, domain.ErrRecordNotFound):
		return err
	}
	c.inFlight[ip] = owner
	return nil
}

// Release drops an in-flight claim. Claims held by other owners are left alone.
func (c *ClaimRegistry) Release(ip string, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[ip] == owner {
		delete(c.inFlight, ip)
	}
}

// Commit persists the record under the owner's claim and turns the claim into a stored record.
func (c *ClaimRegistry) Commit(ctx context.Context, record domain.DeviceRecord, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if holder, ok := c.inFlight[record.IP]; !ok || holder != owner {
		return fmt.Errorf("%w: %s is not claimed by %s", domain.ErrDuplicateDevice, record.IP, owner)
	}
	delete(c.inFlight, record.IP)
	return c.store.Insert(ctx, record)
}

// Claimed reports whether the ip is stored or held by a flow.
func (c *ClaimRegistry) Claimed(ctx context.Context, ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[ip]; ok {
		return true
	}
	_, err := c.store.Get(ctx, ip)
	return err == nil
}
