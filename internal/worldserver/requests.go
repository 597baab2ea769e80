package worldserver

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core/data"
)

// ClaimRequest marks an unanswered request as answered by the world server
// described by specID. Only one caller can claim a request; the return value
// reports whether this one did.
func ClaimRequest(ctx context.Context, db *gorm.DB, requestID, specID string) (bool, error) {
	claimed, err := data.TransitionWorldServerRequest(db.WithContext(ctx), requestID,
		[]data.WorldServerRequestState{data.RequestUnanswered}, data.RequestAnswered, specID)
	if err != nil {
		return false, fmt.Errorf("error claiming request %s: %w", requestID, err)
	}
	return claimed, nil
}

// FailRequest moves a pending request to the error state so that its requester
// stops waiting. Finished requests are left alone.
func FailRequest(ctx context.Context, db *gorm.DB, requestID string) (bool, error) {
	failed, err := data.TransitionWorldServerRequest(db.WithContext(ctx), requestID,
		data.PendingRequestStates, data.RequestError, "")
	if err != nil {
		return false, fmt.Errorf("error failing request %s: %w", requestID, err)
	}
	return failed, nil
}

// CompletePendingRequest is called by a world server when it starts. If a
// pending request names the server's specification it's marked complete and the
// request is returned; otherwise nothing is changed and nil is returned.
func CompletePendingRequest(ctx context.Context, db *gorm.DB, specID string) (*data.WorldServerRequest, error) {
	db = db.WithContext(ctx)

	request, err := data.FindPendingRequestForSpecification(db, specID)
	if err != nil {
		return nil, fmt.Errorf("error finding requests for %s: %w", specID, err)
	}
	if request == nil {
		return nil, nil
	}

	completed, err := data.TransitionWorldServerRequest(db, request.ID,
		data.PendingRequestStates, data.RequestComplete, "")
	if err != nil {
		return nil, fmt.Errorf("error completing request %s: %w", request.ID, err)
	}
	if !completed {
		// The requester gave up or another path finished it first.
		return nil, nil
	}
	request.State = data.RequestComplete
	return request, nil
}
