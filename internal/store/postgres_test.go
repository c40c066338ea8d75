package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkden-lab/argus-tracker/internal/location"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgres(mock)
}

func update(entityID int64, lat string) location.Update {
	return location.Update{
		EntityID:   entityID,
		EntityType: location.EntityUser,
		EventID:    42,
		CompanyID:  3,
		Latitude:   lat,
		Longitude:  "2.0",
		Requester:  location.Requester{ID: entityID, Name: "Dana"},
		UpdatedAt:  time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
}

func upsertArgs(u location.Update) []any {
	return []any{
		u.EntityID, string(u.EntityType), u.EventID, u.CompanyID, u.Latitude, u.Longitude,
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		u.UpdatedAt,
	}
}

func TestUpsertLocations_CommitsBatch(t *testing.T) {
	mock, s := newMock(t)
	batch := []location.Update{update(7, "1.0"), update(8, "1.5")}

	mock.ExpectBegin()
	for _, u := range batch {
		mock.ExpectExec(`INSERT INTO locations .* ON CONFLICT \(entity_id, entity_type, event_id\) DO UPDATE`).
			WithArgs(upsertArgs(u)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.UpsertLocations(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLocations_RollsBackOnFailure(t *testing.T) {
	mock, s := newMock(t)
	batch := []location.Update{update(7, "1.0"), update(8, "1.5")}
	dbErr := errors.New("deadlock detected")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO locations`).
		WithArgs(upsertArgs(batch[0])...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO locations`).
		WithArgs(upsertArgs(batch[1])...).
		WillReturnError(dbErr)
	mock.ExpectRollback()

	err := s.UpsertLocations(context.Background(), batch)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "8:USER:42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLocations_BeginAndCommitErrors(t *testing.T) {
	mock, s := newMock(t)
	beginErr := errors.New("pool exhausted")
	mock.ExpectBegin().WillReturnError(beginErr)
	assert.ErrorIs(t, s.UpsertLocations(context.Background(), []location.Update{update(7, "1.0")}), beginErr)

	commitErr := errors.New("serialization failure")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO locations`).WithArgs(upsertArgs(update(7, "1.0"))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(commitErr)
	assert.ErrorIs(t, s.UpsertLocations(context.Background(), []location.Update{update(7, "1.0")}), commitErr)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLocations_EmptyBatchIsNoop(t *testing.T) {
	mock, s := newMock(t)
	require.NoError(t, s.UpsertLocations(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyMembership(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT e.company_id\s+FROM event_members`).
		WithArgs(int64(7), int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"company_id"}).AddRow(int64(3)))
	companyID, err := s.VerifyMembership(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(3), companyID)

	mock.ExpectQuery(`FROM event_members`).
		WithArgs(int64(8), int64(42)).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.VerifyMembership(ctx, 8, 42)
	assert.ErrorIs(t, err, location.ErrNotFound)

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`FROM event_members`).
		WithArgs(int64(7), int64(42)).
		WillReturnError(dbErr)
	_, err = s.VerifyMembership(ctx, 7, 42)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, location.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDepartment(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(`FROM department_members`).
		WithArgs(int64(7), int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	dept, err := s.FindDepartment(ctx, 7, 3)
	require.NoError(t, err)
	require.NotNil(t, dept)
	assert.Equal(t, int64(5), *dept)

	mock.ExpectQuery(`FROM department_members`).
		WithArgs(int64(8), int64(3)).
		WillReturnError(pgx.ErrNoRows)
	dept, err = s.FindDepartment(ctx, 8, 3)
	require.NoError(t, err)
	assert.Nil(t, dept)

	mock.ExpectQuery(`FROM department_members`).
		WithArgs(int64(7), int64(3)).
		WillReturnError(errors.New("timeout"))
	_, err = s.FindDepartment(ctx, 7, 3)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByEvent(t *testing.T) {
	mock, s := newMock(t)
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	speed := 4.5

	rows := pgxmock.NewRows([]string{
		"entity_id", "entity_type", "event_id", "company_id", "latitude", "longitude",
		"distance", "eta", "speed", "battery_level", "requester", "updated_at",
	}).
		AddRow(int64(7), "USER", int64(42), int64(3), "1.0000000", "2.0000000",
			(*float64)(nil), (*float64)(nil), &speed, (*float64)(nil), []byte(`{"id":7,"name":"Dana","department_id":5}`), at).
		AddRow(int64(9), "INVENTORY", int64(42), int64(3), "1.5000000", "2.5000000",
			(*float64)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil), []byte(`{"id":7,"name":"Dana"}`), at)

	mock.ExpectQuery(`FROM locations\s+WHERE event_id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	got, err := s.ListByEvent(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, location.Key{EntityID: 7, EntityType: location.EntityUser, EventID: 42}, got[0].Key())
	require.NotNil(t, got[0].Telemetry)
	assert.Equal(t, 4.5, *got[0].Telemetry.Speed)
	require.NotNil(t, got[0].Requester.DepartmentID)
	assert.Equal(t, int64(5), *got[0].Requester.DepartmentID)

	assert.Equal(t, location.EntityInventory, got[1].EntityType)
	assert.Nil(t, got[1].Telemetry)
	assert.Equal(t, "1.5000000", got[1].Latitude)

	assert.NoError(t, mock.ExpectationsWereMet())
}
