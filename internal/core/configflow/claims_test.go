package configflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) Insert(ctx context.Context, record domain.DeviceRecord) error {
	return m.Called(record).Error(0)
}

func (m *mockRecordStore) Get(ctx context.Context, ip string) (domain.DeviceRecord, error) {
	args := m.Called(ip)
	return args.Get(0).(domain.DeviceRecord), args.Error(1)
}

func (m *mockRecordStore) List(ctx context.Context) ([]domain.DeviceRecord, error) {
	args := m.Called()
	return args.Get(0).([]domain.DeviceRecord), args.Error(1)
}

func (m *mockRecordStore) Delete(ctx context.Context, ip string) error {
	return m.Called(ip).Error(0)
}

func (m *mockRecordStore) Close() error {
	return nil
}

func TestClaimRegistry(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	store := &mockRecordStore{}
	store.On("Get", "10.0.0.1").Return(domain.DeviceRecord{IP: "10.0.0.1"}, nil)
	store.On("Get", "10.0.0.2").Return(domain.DeviceRecord{}, domain.ErrRecordNotFound)
	store.On("Insert", mock.MatchedBy(func(r domain.DeviceRecord) bool { return r.IP == "10.0.0.2" })).Return(nil).Once()

	claims := NewClaimRegistry(store)

	assert.ErrorIs(claims.Claim(ctx, "10.0.0.1", "a"), domain.ErrDuplicateDevice, "stored ip")

	assert.NoError(claims.Claim(ctx, "10.0.0.2", "a"))
	assert.NoError(claims.Claim(ctx, "10.0.0.2", "a"), "owner may claim twice")
	assert.ErrorIs(claims.Claim(ctx, "10.0.0.2", "b"), domain.ErrDuplicateDevice, "held by another flow")
	assert.True(claims.Claimed(ctx, "10.0.0.2"))

	// only the owner can release or commit
	claims.Release("10.0.0.2", "b")
	assert.True(claims.Claimed(ctx, "10.0.0.2"))
	assert.ErrorIs(claims.Commit(ctx, domain.DeviceRecord{IP: "10.0.0.2"}, "b"), domain.ErrDuplicateDevice)

	assert.NoError(claims.Commit(ctx, domain.DeviceRecord{IP: "10.0.0.2"}, "a"))

	claims.Release("10.0.0.2", "a")
	assert.False(claims.Claimed(ctx, "10.0.0.2"), "committed claims leave the in-flight set")

	store.AssertExpectations(t)
}

func TestClaimRegistryStoreError(t *testing.T) {

	storeErr := errors.New("disk on fire")
	store := &mockRecordStore{}
	store.On("Get", "10.0.0.3").Return(domain.DeviceRecord{}, storeErr)

	claims := NewClaimRegistry(store)
	err := claims.Claim(context.Background(), "10.0.0.3", "a")
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, domain.ErrDuplicateDevice)

	store.AssertExpectations(t)
}

func TestClaimRegistryConcurrentClaims(t *testing.T) {

	store := &mockRecordStore{}
	store.On("Get", "10.0.0.4").Return(domain.DeviceRecord{}, domain.ErrRecordNotFound)
	claims := NewClaimRegistry(store)

	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			if claims.Claim(context.Background(), "10.0.0.4", owner) == nil {
				won.Add(1)
			}
		}(fmt.Sprintf("flow-%d", i))
	}
	wg.Wait()

	require.Equal(t, int32(1), won.Load(), "exactly one flow holds the ip")
}
