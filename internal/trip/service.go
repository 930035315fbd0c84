package trip

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/trip/entity"
	triprepo "github.com/claudiohpo/Relatorio-KM/internal/trip/repo"
	"github.com/claudiohpo/Relatorio-KM/pkg/utilities"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidPlate = errors.New("invalid vehicle plate: use formats like AAA-1234 or AAA1A23")
)

var (
	plateMercosul = regexp.MustCompile(`^[A-Z]{3}[0-9][A-Z][0-9]{2}$`)
	plateLegacy   = regexp.MustCompile(`^[A-Z]{3}[0-9]{4}$`)
	plateStrip    = regexp.MustCompile(`[^A-Z0-9]`)
)

// NormalizePlate uppercases and strips separators from a vehicle plate
// and validates the Mercosul and pre-Mercosul formats. Empty input stays
// empty; anything else must normalize to a valid 7-character plate.
func NormalizePlate(raw string) (string, error) {
	s := plateStrip.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw)), "")
	if s == "" {
		return "", nil
	}
	if len(s) != 7 || (!plateMercosul.MatchString(s) && !plateLegacy.MatchString(s)) {
		return "", ErrInvalidPlate
	}
	return s, nil
}

// tripStore is the repository surface the service depends on.
type tripStore interface {
	EnsurePartition(ctx context.Context, table string) error
	List(ctx context.Context, table string, f triprepo.ListFilter) ([]*entity.TripRecord, error)
	GetByID(ctx context.Context, table, id string) (*entity.TripRecord, error)
	Latest(ctx context.Context, table string) (*entity.TripRecord, error)
	Create(ctx context.Context, table string, rec *entity.TripRecord) error
	Update(ctx context.Context, table string, rec *entity.TripRecord) (int64, error)
	Delete(ctx context.Context, table, id string) (int64, error)
	DeleteAll(ctx context.Context, table string) (int64, error)
}

// TripService owns trip-record lifecycle and the distance derivation.
// All operations are scoped to the partition table the caller resolved.
type TripService struct {
	store  tripStore
	logger *zap.SugaredLogger
	now    func() time.Time
	newID  func() string
}

func NewTripService(db *sqlx.DB, logger *zap.SugaredLogger) *TripService {
	return &TripService{
		store:  triprepo.NewTripRepo(db),
		logger: logger,
		now:    time.Now,
		newID:  utilities.NewKSUID,
	}
}

// CreateInput carries the fields accepted on record submission.
type CreateInput struct {
	Date          *time.Time
	CallReference string
	Location      string
	Plate         string
	OdometerStart *float64
	OdometerEnd   *float64
	Notes         string
}

// Create stores a new record in the partition. The trip date defaults to
// today when omitted.
func (s *TripService) Create(ctx context.Context, table string, in CreateInput) (*entity.TripRecord, error) {
	plate, err := NormalizePlate(in.Plate)
	if err != nil {
		return nil, err
	}
	now := s.now()
	date := now
	if in.Date != nil {
		date = *in.Date
	}
	rec := &entity.TripRecord{
		ID:            s.newID(),
		Date:          truncateToDay(date),
		CallReference: strings.TrimSpace(in.CallReference),
		Location:      strings.TrimSpace(in.Location),
		OdometerStart: in.OdometerStart,
		OdometerEnd:   in.OdometerEnd,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if plate != "" {
		rec.Plate = &plate
	}
	rec.ComputeDistance()

	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, table, rec); err != nil {
		return nil, err
	}
	s.logger.Debugw("trip record created", "partition", table, "id", rec.ID)
	return rec, nil
}

// Patch is a partial update: nil pointers leave fields untouched. The
// odometer and plate fields distinguish "absent" from an explicit null
// via their Set flags, mirroring the wire semantics.
type Patch struct {
	Date             *time.Time
	CallReference    *string
	Location         *string
	Plate            *string
	PlateSet         bool
	OdometerStart    *float64
	OdometerStartSet bool
	OdometerEnd      *float64
	OdometerEndSet   bool
	Notes            *string
}

// Update applies a partial update and recomputes the distance whenever
// either odometer reading changed, using the post-update values of both.
func (s *TripService) Update(ctx context.Context, table, id string, p Patch) (*entity.TripRecord, error) {
	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.store.GetByID(ctx, table, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if p.Date != nil {
		rec.Date = truncateToDay(*p.Date)
	}
	if p.CallReference != nil {
		rec.CallReference = strings.TrimSpace(*p.CallReference)
	}
	if p.Location != nil {
		rec.Location = strings.TrimSpace(*p.Location)
	}
	if p.PlateSet {
		if p.Plate == nil {
			rec.Plate = nil
		} else {
			plate, err := NormalizePlate(*p.Plate)
			if err != nil {
				return nil, err
			}
			if plate == "" {
				rec.Plate = nil
			} else {
				rec.Plate = &plate
			}
		}
	}
	if p.Notes != nil {
		rec.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.OdometerStartSet {
		rec.OdometerStart = p.OdometerStart
	}
	if p.OdometerEndSet {
		rec.OdometerEnd = p.OdometerEnd
	}
	if p.OdometerStartSet || p.OdometerEndSet {
		rec.ComputeDistance()
	}
	rec.UpdatedAt = s.now()

	n, err := s.store.Update(ctx, table, rec)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns filtered records from the partition.
func (s *TripService) List(ctx context.Context, table string, f triprepo.ListFilter) ([]*entity.TripRecord, error) {
	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return nil, err
	}
	return s.store.List(ctx, table, f)
}

// Get returns one record by id.
func (s *TripService) Get(ctx context.Context, table, id string) (*entity.TripRecord, error) {
	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.store.GetByID(ctx, table, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Latest returns the most recent record, or nil when the partition is empty.
func (s *TripService) Latest(ctx context.Context, table string) (*entity.TripRecord, error) {
	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.store.Latest(ctx, table)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes one record by id.
func (s *TripService) Delete(ctx context.Context, table, id string) error {
	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return err
	}
	n, err := s.store.Delete(ctx, table, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll wipes every record in the caller's partition.
func (s *TripService) DeleteAll(ctx context.Context, table string) (int64, error) {
	if err := s.store.EnsurePartition(ctx, table); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteAll(ctx, table)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("partition wiped", "partition", table, "deleted", n)
	return n, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
