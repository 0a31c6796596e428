package entity

import (
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"go.uber.org/zap"
)

// Availability tracks consecutive operation failures of one entity. An entity stays available
// until maxErrors consecutive failures; any success makes it healthy again.
type Availability struct {
	name       string
	maxErrors  int
	errorCount int
	available  bool
	logger     *zap.Logger
}

func NewAvailability(name string, maxErrors int, logger *zap.Logger) *Availability {
	if maxErrors <= 0 {
		maxErrors = domain.MAX_ERRORS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Availability{
		name:      name,
		maxErrors: maxErrors,
		available: true,
		logger:    logger,
	}
}

// Success moves the entity to healthy. It reports whether the availability flag changed.
func (a *Availability) Success() bool {
	changed := !a.available
	a.errorCount = 0
	a.available = true
	return changed
}

// Failure counts one failed poll or command. It reports whether the availability flag changed.
func (a *Availability) Failure(message string, err error) bool {
	a.errorCount++
	fields := []zap.Field{zap.String("entity", a.name), zap.Int("attempt", a.errorCount), zap.Int("max", a.maxErrors)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if a.errorCount >= a.maxErrors {
		changed := a.available
		a.available = false
		a.logger.Error(message+" (unavailable)", fields...)
		return changed
	}
	a.logger.Warn(message, fields...)
	return false
}

func (a *Availability) Available() bool {
	return a.available
}

func (a *Availability) ErrorCount() int {
	return a.errorCount
}

func (a *Availability) MaxErrors() int {
	return a.maxErrors
}

func (a *Availability) Status() domain.AvailabilityStatus {
	switch {
	case !a.available:
		return domain.STATUS_UNAVAILABLE
	case a.errorCount > 0:
		return domain.STATUS_DEGRADED
	default:
		return domain.STATUS_HEALTHY
	}
}
