// Package worldserver finds or starts the world server for a zone. Requesters
// and world servers never talk to each other directly; they coordinate through
// WorldServerRequest records in the shared database.
package worldserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/core/metrics"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 100 * time.Second
)

var (
	// ErrAllocationTimeout is returned when no world server completed the request
	// in time. The request is left behind for cleanup.
	ErrAllocationTimeout = errors.New("timed out waiting for a world server")
	// ErrAllocationFailed is returned when the request ended in an error state or
	// no longer points at a usable specification.
	ErrAllocationFailed = errors.New("world server allocation failed")
)

// Allocator requests world servers on behalf of the servers that need them.
type Allocator struct {
	DB      *gorm.DB
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics

	// Delay between reads of a pending request.
	PollInterval time.Duration
	// How long to wait for a request to complete.
	Timeout time.Duration
}

func (a *Allocator) pollInterval() time.Duration {
	if a.PollInterval > 0 {
		return a.PollInterval
	}
	return DefaultPollInterval
}

func (a *Allocator) timeout() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return DefaultTimeout
}

// RequestWorldServer returns a world server for zone. A running server for the
// zone with room for another user is returned directly; otherwise a request is
// recorded and polled until a world server completes it, it fails, or the
// timeout passes.
//
// Two callers asking for the same zone at once may each create a request.
func (a *Allocator) RequestWorldServer(ctx context.Context, zone data.ZoneID) (*data.ServerSpecification, error) {
	db := a.DB.WithContext(ctx)

	specs, err := data.FindSpecificationsByType(db, data.ServerTypeWorld)
	if err != nil {
		return nil, fmt.Errorf("error finding world servers: %w", err)
	}
	for i := range specs {
		if specs[i].ZoneID == zone && specs[i].HasCapacity() {
			a.Metrics.AllocationFinished(metrics.AllocationExisting)
			return &specs[i], nil
		}
	}

	request := &data.WorldServerRequest{
		ID:     uuid.NewString(),
		ZoneID: zone,
		State:  data.RequestUnanswered,
	}
	if err := data.CreateWorldServerRequest(db, request); err != nil {
		return nil, fmt.Errorf("error creating world server request: %w", err)
	}

	logger := a.Logger.WithFields(logrus.Fields{"request_id": request.ID, "zone_id": zone})
	logger.Infof("requested world server for zone %d", zone)

	deadline := time.Now().Add(a.timeout())
	ticker := time.NewTicker(a.pollInterval())
	defer ticker.Stop()

	for {
		current, err := data.FindWorldServerRequest(db, request.ID)
		if err != nil {
			return nil, fmt.Errorf("error reading world server request: %w", err)
		}
		if current == nil {
			a.Metrics.AllocationFinished(metrics.AllocationFailed)
			logger.Error("world server request disappeared")
			return nil, ErrAllocationFailed
		}

		switch {
		case current.State.Pending():
		case current.State == data.RequestComplete:
			return a.finish(db, logger, current)
		default:
			a.Metrics.AllocationFinished(metrics.AllocationFailed)
			logger.Warnf("world server request ended in state %v", current.State)
			return nil, ErrAllocationFailed
		}

		if !time.Now().Before(deadline) {
			a.Metrics.AllocationFinished(metrics.AllocationTimeout)
			logger.Errorf("world server request still %v after %v", current.State, a.timeout())
			return nil, ErrAllocationTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Allocator) finish(db *gorm.DB, logger logrus.FieldLogger, request *data.WorldServerRequest) (*data.ServerSpecification, error) {
	if err := data.DeleteWorldServerRequest(db, request.ID); err != nil {
		return nil, fmt.Errorf("error deleting world server request: %w", err)
	}

	spec, err := data.FindSpecification(db, request.SpecificationID)
	if err != nil {
		return nil, fmt.Errorf("error reading specification %s: %w", request.SpecificationID, err)
	}
	if spec == nil {
		a.Metrics.AllocationFinished(metrics.AllocationFailed)
		logger.Errorf("completed request names unknown specification %s", request.SpecificationID)
		return nil, ErrAllocationFailed
	}

	a.Metrics.AllocationFinished(metrics.AllocationAllocated)
	logger.Infof("world server %s allocated on port %d", spec.ID, spec.Port)
	return spec, nil
}
