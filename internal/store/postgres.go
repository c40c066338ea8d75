// Package store implements the location pipeline's persistence and lookup
// collaborators on Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

// DBTX is the part of *pgxpool.Pool the store uses.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores locations and answers membership and department lookups.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a Postgres store.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const upsertLocationSQL = `INSERT INTO locations
	(entity_id, entity_type, event_id, company_id, latitude, longitude,
	 distance, eta, speed, battery_level, requester, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (entity_id, entity_type, event_id) DO UPDATE SET
		company_id = EXCLUDED.company_id,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		distance = EXCLUDED.distance,
		eta = EXCLUDED.eta,
		speed = EXCLUDED.speed,
		battery_level = EXCLUDED.battery_level,
		requester = EXCLUDED.requester,
		updated_at = EXCLUDED.updated_at`

// UpsertLocations writes the batch in one transaction. Either every row is
// written or none is.
func (s *Postgres) UpsertLocations(ctx context.Context, updates []location.Update) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	for _, u := range updates {
		if err := s.upsertOne(ctx, tx, u); err != nil {
			tx.Rollback(ctx) //nolint:errcheck // already failing
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) upsertOne(ctx context.Context, tx pgx.Tx, u location.Update) error {
	requester, err := json.Marshal(u.Requester)
	if err != nil {
		return fmt.Errorf("marshal requester for %s: %w", u.Key(), err)
	}

	var t location.Telemetry
	if u.Telemetry != nil {
		t = *u.Telemetry
	}

	_, err = tx.Exec(ctx, upsertLocationSQL,
		u.EntityID, string(u.EntityType), u.EventID, u.CompanyID, u.Latitude, u.Longitude,
		t.Distance, t.ETA, t.Speed, t.BatteryLevel, requester, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", u.Key(), err)
	}
	return nil
}

// VerifyMembership returns the company of eventID when userID is one of its
// members, or location.ErrNotFound.
func (s *Postgres) VerifyMembership(ctx context.Context, userID, eventID int64) (int64, error) {
	var companyID int64
	err := s.db.QueryRow(ctx,
		`SELECT e.company_id
		 FROM event_members em
		 JOIN events e ON e.id = em.event_id
		 WHERE em.user_id = $1 AND em.event_id = $2`,
		userID, eventID,
	).Scan(&companyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, location.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("verify membership of user %d in event %d: %w", userID, eventID, err)
	}
	return companyID, nil
}

// FindDepartment returns the user's department within companyID, or nil when
// the user has none.
func (s *Postgres) FindDepartment(ctx context.Context, userID, companyID int64) (*int64, error) {
	var departmentID int64
	err := s.db.QueryRow(ctx,
		`SELECT d.id
		 FROM department_members dm
		 JOIN departments d ON d.id = dm.department_id
		 WHERE dm.user_id = $1 AND d.company_id = $2
		 ORDER BY d.id
		 LIMIT 1`,
		userID, companyID,
	).Scan(&departmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find department of user %d: %w", userID, err)
	}
	return &departmentID, nil
}

// ListByEvent returns the persisted positions for eventID.
func (s *Postgres) ListByEvent(ctx context.Context, eventID int64) ([]location.Update, error) {
	rows, err := s.db.Query(ctx,
		`SELECT entity_id, entity_type, event_id, company_id, latitude::text, longitude::text,
		        distance, eta, speed, battery_level, requester, updated_at
		 FROM locations
		 WHERE event_id = $1
		 ORDER BY entity_type, entity_id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list locations for event %d: %w", eventID, err)
	}
	defer rows.Close()

	updates := []location.Update{}
	for rows.Next() {
		var (
			u          location.Update
			entityType string
			t          location.Telemetry
			requester  []byte
			updatedAt  time.Time
		)
		if err := rows.Scan(&u.EntityID, &entityType, &u.EventID, &u.CompanyID, &u.Latitude, &u.Longitude,
			&t.Distance, &t.ETA, &t.Speed, &t.BatteryLevel, &requester, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		u.EntityType = location.EntityType(entityType)
		u.UpdatedAt = updatedAt.UTC()
		if t != (location.Telemetry{}) {
			u.Telemetry = &t
		}
		if len(requester) > 0 {
			if err := json.Unmarshal(requester, &u.Requester); err != nil {
				return nil, fmt.Errorf("decode requester for %s: %w", u.Key(), err)
			}
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}
