// Package report serves the consolidated record report, either as a CSV
// download or as JSON.
package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/tenant"
	"github.com/claudiohpo/Relatorio-KM/internal/trip"
	"github.com/claudiohpo/Relatorio-KM/internal/trip/entity"
	triprepo "github.com/claudiohpo/Relatorio-KM/internal/trip/repo"
)

type Handler struct {
	svc    *trip.TripService
	logger *zap.SugaredLogger
}

func NewHandler(db *sqlx.DB, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: trip.NewTripService(db, logger), logger: logger}
}

// Get handles GET /api/report. The report is read-only, so anonymous
// requests fall back to the shared partition.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	table, err := tenant.Resolve(r, "", false)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	filter, err := filterFromQuery(q.Get("from"), q.Get("to"), q.Get("location"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	// reports read oldest first
	filter.Ascending = true

	recs, err := h.svc.List(r.Context(), table, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if q.Get("format") == "json" {
		h.writeJSON(w, http.StatusOK, toRows(recs))
		return
	}
	writeCSV(w, recs)
}

type reportRow struct {
	Date          string   `json:"date"`
	CallReference string   `json:"callReference"`
	Location      string   `json:"location"`
	Plate         string   `json:"plate"`
	OdometerStart *float64 `json:"odometerStart"`
	OdometerEnd   *float64 `json:"odometerEnd"`
	Distance      *float64 `json:"distance"`
	Notes         string   `json:"notes"`
}

func toRows(recs []*entity.TripRecord) []reportRow {
	out := make([]reportRow, 0, len(recs))
	for _, r := range recs {
		plate := ""
		if r.Plate != nil {
			plate = *r.Plate
		}
		out = append(out, reportRow{
			Date:          r.Date.Format("2006-01-02"),
			CallReference: r.CallReference,
			Location:      r.Location,
			Plate:         plate,
			OdometerStart: r.OdometerStart,
			OdometerEnd:   r.OdometerEnd,
			Distance:      r.Distance,
			Notes:         r.Notes,
		})
	}
	return out
}

func writeCSV(w http.ResponseWriter, recs []*entity.TripRecord) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename=relatorio_km.csv`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"date", "callReference", "location", "plate",
		"odometerStart", "odometerEnd", "distance", "notes"})
	for _, r := range recs {
		plate := ""
		if r.Plate != nil {
			plate = *r.Plate
		}
		_ = cw.Write([]string{
			r.Date.Format("2006-01-02"),
			r.CallReference,
			r.Location,
			plate,
			formatFloat(r.OdometerStart),
			formatFloat(r.OdometerEnd),
			formatFloat(r.Distance),
			r.Notes,
		})
	}
	cw.Flush()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

var errBadDate = errors.New("invalid date: expected YYYY-MM-DD")

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, errBadDate
}

func filterFromQuery(from, to, location string) (triprepo.ListFilter, error) {
	var f triprepo.ListFilter
	if from != "" {
		d, err := parseDate(from)
		if err != nil {
			return f, err
		}
		f.From = &d
	}
	if to != "" {
		d, err := parseDate(to)
		if err != nil {
			return f, err
		}
		f.To = &d
	}
	f.Location = location
	return f, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadDate):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorw("report failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
