package repo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/claudiohpo/Relatorio-KM/internal/trip/entity"
)

// TripRepo provides data access for trip-record partitions. Every method
// takes the partition table name resolved by the caller; names are always
// quoted before interpolation since identifiers cannot be parameterized.
type TripRepo struct {
	db *sqlx.DB
	// partitions already ensured this process lifetime
	ensured sync.Map
}

func NewTripRepo(db *sqlx.DB) *TripRepo { return &TripRepo{db: db} }

const partitionDDL = `
CREATE TABLE IF NOT EXISTS %s (
  id varchar(32) PRIMARY KEY,
  trip_date DATE NOT NULL,
  call_reference TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  plate TEXT,
  odometer_start DOUBLE PRECISION,
  odometer_end DOUBLE PRECISION,
  distance DOUBLE PRECISION,
  notes TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsurePartition creates the partition table if not exists (idempotent,
// cached per process).
func (r *TripRepo) EnsurePartition(ctx context.Context, table string) error {
	if _, ok := r.ensured.Load(table); ok {
		return nil
	}
	ddl := fmt.Sprintf(partitionDDL, pq.QuoteIdentifier(table))
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	r.ensured.Store(table, struct{}{})
	return nil
}

type tripRow struct {
	ID            string     `db:"id"`
	TripDate      time.Time  `db:"trip_date"`
	CallReference string     `db:"call_reference"`
	Location      string     `db:"location"`
	Plate         *string    `db:"plate"`
	OdometerStart *float64   `db:"odometer_start"`
	OdometerEnd   *float64   `db:"odometer_end"`
	Distance      *float64   `db:"distance"`
	Notes         string     `db:"notes"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (row *tripRow) toEntity() *entity.TripRecord {
	return &entity.TripRecord{
		ID:            row.ID,
		Date:          row.TripDate,
		CallReference: row.CallReference,
		Location:      row.Location,
		Plate:         row.Plate,
		OdometerStart: row.OdometerStart,
		OdometerEnd:   row.OdometerEnd,
		Distance:      row.Distance,
		Notes:         row.Notes,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

const tripColumns = `id, trip_date, call_reference, location, plate,
	odometer_start, odometer_end, distance, notes, created_at, updated_at`

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	From      *time.Time
	To        *time.Time
	Location  string
	Ascending bool
}

// List returns filtered records, newest first by default.
func (r *TripRepo) List(ctx context.Context, table string, f ListFilter) ([]*entity.TripRecord, error) {
	var (
		conds []string
		args  []any
	)
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("trip_date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("trip_date <= $%d", len(args)))
	}
	if f.Location != "" {
		args = append(args, "%"+f.Location+"%")
		conds = append(conds, fmt.Sprintf("location ILIKE $%d", len(args)))
	}
	q := `SELECT ` + tripColumns + ` FROM ` + pq.QuoteIdentifier(table)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	if f.Ascending {
		q += " ORDER BY trip_date ASC, created_at ASC"
	} else {
		q += " ORDER BY trip_date DESC, created_at DESC"
	}

	var rows []tripRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*entity.TripRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

// GetByID returns a single record or sql.ErrNoRows.
func (r *TripRepo) GetByID(ctx context.Context, table, id string) (*entity.TripRecord, error) {
	q := `SELECT ` + tripColumns + ` FROM ` + pq.QuoteIdentifier(table) + ` WHERE id=$1`
	var row tripRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// Latest returns the most recent record by trip date, or sql.ErrNoRows
// when the partition is empty.
func (r *TripRepo) Latest(ctx context.Context, table string) (*entity.TripRecord, error) {
	q := `SELECT ` + tripColumns + ` FROM ` + pq.QuoteIdentifier(table) +
		` ORDER BY trip_date DESC, created_at DESC LIMIT 1`
	var row tripRow
	if err := r.db.GetContext(ctx, &row, q); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// Create inserts a record into the partition.
func (r *TripRepo) Create(ctx context.Context, table string, rec *entity.TripRecord) error {
	q := `INSERT INTO ` + pq.QuoteIdentifier(table) + ` (id, trip_date, call_reference, location, plate,
		odometer_start, odometer_end, distance, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.Date, rec.CallReference, rec.Location, rec.Plate,
		rec.OdometerStart, rec.OdometerEnd, rec.Distance, rec.Notes,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

// Update writes the merged record back. Returns sql.ErrNoRows semantics
// via affected row count.
func (r *TripRepo) Update(ctx context.Context, table string, rec *entity.TripRecord) (int64, error) {
	q := `UPDATE ` + pq.QuoteIdentifier(table) + ` SET trip_date=$2, call_reference=$3, location=$4,
		plate=$5, odometer_start=$6, odometer_end=$7, distance=$8, notes=$9, updated_at=$10 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.Date, rec.CallReference, rec.Location, rec.Plate,
		rec.OdometerStart, rec.OdometerEnd, rec.Distance, rec.Notes, rec.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes one record; returns the number of rows removed.
func (r *TripRepo) Delete(ctx context.Context, table, id string) (int64, error) {
	q := `DELETE FROM ` + pq.QuoteIdentifier(table) + ` WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAll wipes the caller's partition; returns the number of rows removed.
func (r *TripRepo) DeleteAll(ctx context.Context, table string) (int64, error) {
	q := `DELETE FROM ` + pq.QuoteIdentifier(table)
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
