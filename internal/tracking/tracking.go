// Package tracking implements the location ingestion pipeline: the
// authorization-gated publisher, the sequential consumer loop, the dedup
// buffer they share with the flush scheduler, and the flush scheduler itself.
package tracking

import (
	"context"
	"fmt"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

// Membership verifies that a user belongs to an event and returns the
// event's company. It returns location.ErrNotFound when the user is not a
// member.
type Membership interface {
	VerifyMembership(ctx context.Context, userID, eventID int64) (companyID int64, err error)
}

// Departments resolves the department a user belongs to within a company.
// A nil ID with a nil error means the user has no department.
type Departments interface {
	FindDepartment(ctx context.Context, userID, companyID int64) (*int64, error)
}

// Store persists a batch of updates in a single all-or-nothing transaction,
// upserting on the composite key.
type Store interface {
	UpsertLocations(ctx context.Context, updates []location.Update) error
}

// Fanout emits a processed update to the pub/sub channels.
type Fanout interface {
	Publish(ctx context.Context, update location.Update, departmentID *int64) error
}

// AuthorizationError is returned when the publisher is not scoped to the
// target event. It unwraps to location.ErrNotFound.
type AuthorizationError struct {
	UserID  int64
	EventID int64
	Err     error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %d is not a member of event %d: %v", e.UserID, e.EventID, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// DeserializationError reports a message that could not be decoded.
type DeserializationError struct {
	Partition int
	Offset    int64
	Err       error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decode message at partition %d offset %d: %v", e.Partition, e.Offset, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// FanoutError reports a failed pub/sub send for one update.
type FanoutError struct {
	Key location.Key
	Err error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("fan out %s: %v", e.Key, e.Err)
}

func (e *FanoutError) Unwrap() error { return e.Err }

// PersistenceError reports a failed flush. The batch stays buffered.
type PersistenceError struct {
	BatchSize int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist batch of %d: %v", e.BatchSize, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
