package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudiohpo/Relatorio-KM/internal/trip/entity"
)

func newTripRepoWithMock(t *testing.T) (*TripRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTripRepo(sqlx.NewDb(db, "postgres")), mock
}

var tripCols = []string{"id", "trip_date", "call_reference", "location", "plate",
	"odometer_start", "odometer_end", "distance", "notes", "created_at", "updated_at"}

func TestEnsurePartition_CachedPerProcess(t *testing.T) {
	r, mock := newTripRepoWithMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "trip_records_alice"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.EnsurePartition(context.Background(), "trip_records_alice"))
	// second call must not hit the database
	require.NoError(t, r.EnsurePartition(context.Background(), "trip_records_alice"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTripCreate(t *testing.T) {
	r, mock := newTripRepoWithMock(t)

	plate := "ABC1D23"
	start, end, dist := 100.0, 150.0, 50.0
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rec := &entity.TripRecord{
		ID:            "rec-1",
		Date:          time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		CallReference: "OS-1234",
		Location:      "Campinas",
		Plate:         &plate,
		OdometerStart: &start,
		OdometerEnd:   &end,
		Distance:      &dist,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mock.ExpectExec(`INSERT INTO "trip_records_alice"`).
		WithArgs(rec.ID, rec.Date, rec.CallReference, rec.Location, rec.Plate,
			rec.OdometerStart, rec.OdometerEnd, rec.Distance, rec.Notes,
			rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.Create(context.Background(), "trip_records_alice", rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTripList_Filters(t *testing.T) {
	r, mock := newTripRepoWithMock(t)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SELECT .+ FROM "trip_records_alice" WHERE trip_date >= \$1 AND location ILIKE \$2 ORDER BY trip_date DESC`).
		WithArgs(from, "%camp%").
		WillReturnRows(sqlmock.NewRows(tripCols).
			AddRow("rec-1", from, "OS-1", "Campinas", nil, nil, nil, nil, "", from, from))

	recs, err := r.List(context.Background(), "trip_records_alice",
		ListFilter{From: &from, Location: "camp"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Campinas", recs[0].Location)
	assert.Nil(t, recs[0].Distance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTripGetByID_NotFound(t *testing.T) {
	r, mock := newTripRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM "trip_records_alice" WHERE id=\$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := r.GetByID(context.Background(), "trip_records_alice", "ghost")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestTripUpdate_RowsAffected(t *testing.T) {
	r, mock := newTripRepoWithMock(t)

	rec := &entity.TripRecord{
		ID:        "rec-1",
		Date:      time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec(`UPDATE "trip_records_alice" SET`).
		WithArgs(rec.ID, rec.Date, rec.CallReference, rec.Location, rec.Plate,
			rec.OdometerStart, rec.OdometerEnd, rec.Distance, rec.Notes, rec.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := r.Update(context.Background(), "trip_records_alice", rec)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestTripDeleteAll(t *testing.T) {
	r, mock := newTripRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM "trip_records_alice"`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.DeleteAll(context.Background(), "trip_records_alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
