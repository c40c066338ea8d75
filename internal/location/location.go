// Package location holds the location update model shared by the publish
// path, the consumer loop, the store and the fan-out layer.
package location

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by lookups when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid marks an update that fails validation.
var ErrInvalid = errors.New("invalid location update")

// EntityType discriminates what kind of thing an update locates.
type EntityType string

const (
	EntityUser      EntityType = "USER"
	EntityInventory EntityType = "INVENTORY"
	EntityScan      EntityType = "SCAN"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityInventory, EntityScan:
		return true
	}
	return false
}

// Key is the composite uniqueness key of a location row. The buffer, the
// upsert conflict target and the Kafka message key all use it.
type Key struct {
	EntityID   int64
	EntityType EntityType
	EventID    int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%d", k.EntityID, k.EntityType, k.EventID)
}

// Compare orders keys by event, entity type, then entity id.
func (k Key) Compare(o Key) int {
	switch {
	case k.EventID != o.EventID:
		return cmpInt(k.EventID, o.EventID)
	case k.EntityType != o.EntityType:
		if k.EntityType < o.EntityType {
			return -1
		}
		return 1
	default:
		return cmpInt(k.EntityID, o.EntityID)
	}
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Telemetry carries movement data reported by user devices. It is only
// valid on updates whose entity type is USER.
type Telemetry struct {
	Distance     *float64 `json:"distance,omitempty"`
	ETA          *float64 `json:"eta,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
}

// Requester is the identity snapshot taken when the update was published.
type Requester struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DepartmentID *int64 `json:"department_id,omitempty"`
}

// Update is a single location report. Values are never mutated after
// publish; a newer update for the same Key replaces an older one.
type Update struct {
	EntityID   int64      `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	EventID    int64      `json:"event_id"`
	CompanyID  int64      `json:"company_id"`
	Latitude   string     `json:"latitude"`
	Longitude  string     `json:"longitude"`
	Telemetry  *Telemetry `json:"telemetry,omitempty"`
	Requester  Requester  `json:"requester"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Key returns the composite key of the update.
func (u Update) Key() Key {
	return Key{EntityID: u.EntityID, EntityType: u.EntityType, EventID: u.EventID}
}

var (
	maxLatitude  = decimal.NewFromInt(90)
	maxLongitude = decimal.NewFromInt(180)
)

// Validate checks the invariants every buffered or persisted update must
// satisfy.
func (u Update) Validate() error {
	if u.EntityID <= 0 {
		return fmt.Errorf("%w: entity_id must be positive", ErrInvalid)
	}
	if !u.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity_type %q", ErrInvalid, u.EntityType)
	}
	if u.EventID <= 0 {
		return fmt.Errorf("%w: event_id must be positive", ErrInvalid)
	}
	if err := checkCoordinate("latitude", u.Latitude, maxLatitude); err != nil {
		return err
	}
	if err := checkCoordinate("longitude", u.Longitude, maxLongitude); err != nil {
		return err
	}
	if u.Telemetry != nil && u.EntityType != EntityUser {
		return fmt.Errorf("%w: telemetry is only accepted for %s", ErrInvalid, EntityUser)
	}
	return nil
}

func checkCoordinate(field, value string, limit decimal.Decimal) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%w: %s %q is not a decimal", ErrInvalid, field, value)
	}
	if d.Abs().GreaterThan(limit) {
		return fmt.Errorf("%w: %s %s out of range", ErrInvalid, field, value)
	}
	return nil
}
