package data

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorldServerRequestState is the progress of a WorldServerRequest. States only
// ever move forward; Complete and Error are terminal.
type WorldServerRequestState int

const (
	RequestUnanswered WorldServerRequestState = iota
	RequestAnswered
	RequestComplete
	RequestError
)

func (s WorldServerRequestState) String() string {
	switch s {
	case RequestUnanswered:
		return "Unanswered"
	case RequestAnswered:
		return "Answered"
	case RequestComplete:
		return "Complete"
	case RequestError:
		return "Error"
	default:
		return fmt.Sprintf("WorldServerRequestState(%d)", int(s))
	}
}

// PendingRequestStates are the states of a request that is still waiting on a server.
var PendingRequestStates = []WorldServerRequestState{RequestUnanswered, RequestAnswered}

// Pending reports whether the request is still waiting on a server.
func (s WorldServerRequestState) Pending() bool {
	return slices.Contains(PendingRequestStates, s)
}

// WorldServerRequest is a request for a world server to be started for a zone.
type WorldServerRequest struct {
	ID     string `gorm:"primaryKey"`
	ZoneID ZoneID
	State  WorldServerRequestState `gorm:"index; not null; default:0"`
	// Set once a server has been chosen to fulfil the request.
	SpecificationID string `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a random ID to requests created without one.
func (r *WorldServerRequest) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// CreateWorldServerRequest persists the request.
func CreateWorldServerRequest(db *gorm.DB, request *WorldServerRequest) error {
	return db.Create(request).Error
}

// FindWorldServerRequest returns the request with id or nil if none exists.
func FindWorldServerRequest(db *gorm.DB, id string) (*WorldServerRequest, error) {
	var request WorldServerRequest
	err := db.Where("id = ?", id).First(&request).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &request, nil
}

// FindPendingRequestForSpecification returns the oldest pending request that
// names the specification, or nil if there isn't one.
func FindPendingRequestForSpecification(db *gorm.DB, specID string) (*WorldServerRequest, error) {
	var request WorldServerRequest
	err := db.Where("specification_id = ? AND state IN ?", specID, PendingRequestStates).
		Order("created_at").
		First(&request).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &request, nil
}

// FindUnansweredRequests returns every request no allocator has claimed yet, oldest first.
func FindUnansweredRequests(db *gorm.DB) ([]WorldServerRequest, error) {
	var requests []WorldServerRequest
	err := db.Where("state = ?", RequestUnanswered).Order("created_at").Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionWorldServerRequest moves the request with id to state "to" if its
// current state is one of "from", optionally recording the specification that
// serves it. The update is a single conditional statement so concurrent callers
// can't both win; the return value reports whether this caller did.
func TransitionWorldServerRequest(
	db *gorm.DB,
	id string,
	from []WorldServerRequestState,
	to WorldServerRequestState,
	specID string,
) (bool, error) {
	updates := map[string]interface{}{"state": to}
	if specID != "" {
		updates["specification_id"] = specID
	}

	result := db.Model(&WorldServerRequest{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteWorldServerRequest permanently removes the request with id.
func DeleteWorldServerRequest(db *gorm.DB, id string) error {
	return db.Where("id = ?", id).Delete(&WorldServerRequest{}).Error
}
