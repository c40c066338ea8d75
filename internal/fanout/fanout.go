// Package fanout publishes processed location updates to pub/sub channels:
// one global channel for tenant-wide dashboards and one channel scoped to the
// event (and the requester's department when known) for field clients.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

// EventLocationUpdated is the event name attached to every send.
const EventLocationUpdated = "location.updated"

// GlobalChannel is the broadcast channel every update goes to.
const GlobalChannel = "locations:global"

// Scope selects which audience an Address targets.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeEvent
)

// Address identifies a pub/sub channel.
type Address struct {
	Scope        Scope
	EventID      int64
	DepartmentID *int64
}

// GlobalAddress returns the broadcast address.
func GlobalAddress() Address {
	return Address{Scope: ScopeGlobal}
}

// EventAddress returns the address scoped to eventID and, when departmentID
// is non-nil, to that department.
func EventAddress(eventID int64, departmentID *int64) Address {
	return Address{Scope: ScopeEvent, EventID: eventID, DepartmentID: departmentID}
}

// String renders the channel name, e.g. "locations:event:42:department:7".
func (a Address) String() string {
	if a.Scope == ScopeGlobal {
		return GlobalChannel
	}
	ch := "locations:event:" + strconv.FormatInt(a.EventID, 10)
	if a.DepartmentID != nil {
		ch += ":department:" + strconv.FormatInt(*a.DepartmentID, 10)
	}
	return ch
}

// ParseAddress is the inverse of Address.String.
func ParseAddress(channel string) (Address, error) {
	if channel == GlobalChannel {
		return GlobalAddress(), nil
	}
	parts := strings.Split(channel, ":")
	if (len(parts) != 3 && len(parts) != 5) || parts[0] != "locations" || parts[1] != "event" {
		return Address{}, fmt.Errorf("unknown channel %q", channel)
	}
	eventID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || eventID <= 0 {
		return Address{}, fmt.Errorf("bad event id in channel %q", channel)
	}
	if len(parts) == 3 {
		return EventAddress(eventID, nil), nil
	}
	if parts[3] != "department" {
		return Address{}, fmt.Errorf("unknown channel %q", channel)
	}
	deptID, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || deptID <= 0 {
		return Address{}, fmt.Errorf("bad department id in channel %q", channel)
	}
	return EventAddress(eventID, &deptID), nil
}

// Sender delivers a payload to one channel. Delivery is fire-and-forget; an
// error only means the send itself failed.
type Sender interface {
	Send(ctx context.Context, channel string, events []string, payload any) error
}

// Envelope is the wire form every transport sends.
type Envelope struct {
	Channel string   `json:"channel"`
	Events  []string `json:"events"`
	Data    any      `json:"data"`
}

// GlobalPayload is what the global audience receives. It carries no
// requester identity.
type GlobalPayload struct {
	Latitude  string    `json:"latitude"`
	Longitude string    `json:"longitude"`
	EventID   int64     `json:"event_id"`
	EntityID  int64     `json:"entity_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopedPayload is what event and department subscribers receive.
type ScopedPayload struct {
	GlobalPayload
	EntityType location.EntityType `json:"entity_type"`
	CompanyID  int64               `json:"company_id"`
	Telemetry  *location.Telemetry `json:"telemetry,omitempty"`
	Requester  location.Requester  `json:"requester"`
}

// Publisher sends each update to the global and the scoped channel.
type Publisher struct {
	sender Sender
}

// NewPublisher creates a Publisher that sends through sender.
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// Publish performs exactly two sends. Both are attempted even if the first
// fails; the returned error joins whatever failed.
func (p *Publisher) Publish(ctx context.Context, u location.Update, departmentID *int64) error {
	global := GlobalPayload{
		Latitude:  u.Latitude,
		Longitude: u.Longitude,
		EventID:   u.EventID,
		EntityID:  u.EntityID,
		UpdatedAt: u.UpdatedAt,
	}
	scoped := ScopedPayload{
		GlobalPayload: global,
		EntityType:    u.EntityType,
		CompanyID:     u.CompanyID,
		Telemetry:     u.Telemetry,
		Requester:     u.Requester,
	}
	events := []string{EventLocationUpdated}

	return errors.Join(
		p.sender.Send(ctx, GlobalAddress().String(), events, global),
		p.sender.Send(ctx, EventAddress(u.EventID, departmentID).String(), events, scoped),
	)
}

// MultiSender sends to every wrapped sender.
type MultiSender []Sender

// Send delivers to all senders and joins their errors.
func (m MultiSender) Send(ctx context.Context, channel string, events []string, payload any) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, channel, events, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
