package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/broker"
	"github.com/darkden-lab/argus-tracker/internal/location"
)

// Ack tells the publish caller what happened to its update. Callers must not
// treat the failure values as equivalent.
type Ack int

const (
	AckQueued Ack = iota
	AckInvalid
	AckAuthorizationFailed
	AckLookupFailed
	AckBrokerUnavailable
)

func (a Ack) String() string {
	switch a {
	case AckQueued:
		return "queued"
	case AckInvalid:
		return "invalid"
	case AckAuthorizationFailed:
		return "authorization_failed"
	case AckLookupFailed:
		return "lookup_failed"
	case AckBrokerUnavailable:
		return "broker_unavailable"
	default:
		return "unknown"
	}
}

// Identity is the authenticated user publishing an update.
type Identity struct {
	UserID int64
	Name   string
}

// Draft is a location report before the publisher fills in identity fields.
type Draft struct {
	EventID   int64
	Latitude  string
	Longitude string
	Telemetry *location.Telemetry
}

// Publisher checks event membership and queues user location updates on the
// broker.
type Publisher struct {
	producer    broker.Producer
	membership  Membership
	departments Departments
	logger      *zap.Logger
	now         func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(producer broker.Producer, membership Membership, departments Departments, logger *zap.Logger) *Publisher {
	return &Publisher{
		producer:    producer,
		membership:  membership,
		departments: departments,
		logger:      logger.Named("publisher"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Publish verifies that id belongs to the draft's event and sends exactly
// one broker message. A membership failure returns before the broker is
// touched.
func (p *Publisher) Publish(ctx context.Context, id Identity, d Draft) (Ack, error) {
	companyID, err := p.membership.VerifyMembership(ctx, id.UserID, d.EventID)
	if err != nil {
		if errors.Is(err, location.ErrNotFound) {
			return AckAuthorizationFailed, &AuthorizationError{UserID: id.UserID, EventID: d.EventID, Err: err}
		}
		return AckLookupFailed, fmt.Errorf("verify membership: %w", err)
	}

	requester := location.Requester{ID: id.UserID, Name: id.Name}
	deptID, err := p.departments.FindDepartment(ctx, id.UserID, companyID)
	if err != nil {
		p.logger.Warn("department lookup failed, publishing without department",
			zap.Int64("user_id", id.UserID), zap.Int64("company_id", companyID), zap.Error(err))
	} else {
		requester.DepartmentID = deptID
	}

	u := location.Update{
		EntityID:   id.UserID,
		EntityType: location.EntityUser,
		EventID:    d.EventID,
		CompanyID:  companyID,
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		Telemetry:  d.Telemetry,
		Requester:  requester,
		UpdatedAt:  p.now(),
	}

	payload, err := location.Encode(u)
	if err != nil {
		return AckInvalid, err
	}

	if err := p.producer.Publish(ctx, []byte(u.Key().String()), payload); err != nil {
		p.logger.Error("publish failed", zap.Stringer("key", u.Key()), zap.Error(err))
		return AckBrokerUnavailable, err
	}

	p.logger.Debug("queued location update", zap.Stringer("key", u.Key()))
	return AckQueued, nil
}
