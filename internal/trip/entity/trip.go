package entity

import "time"

// TripRecord is one mileage log entry. Records live in per-user
// partitions; the entity itself carries no owner field.
type TripRecord struct {
	ID            string
	Date          time.Time // calendar day, time component ignored
	CallReference string
	Location      string
	Plate         *string
	OdometerStart *float64
	OdometerEnd   *float64
	// Distance = OdometerEnd - OdometerStart when both are present,
	// recomputed on every odometer change.
	Distance  *float64
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComputeDistance derives the distance field from the odometer readings.
func (r *TripRecord) ComputeDistance() {
	if r.OdometerStart != nil && r.OdometerEnd != nil {
		d := *r.OdometerEnd - *r.OdometerStart
		r.Distance = &d
	} else {
		r.Distance = nil
	}
}
