package trip

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/tenant"
	"github.com/claudiohpo/Relatorio-KM/internal/trip/entity"
	triprepo "github.com/claudiohpo/Relatorio-KM/internal/trip/repo"
)

// Handler exposes the record endpoint. Every operation is scoped to the
// partition resolved from the request identity; writes without a valid
// identity are rejected outright.
type Handler struct {
	svc    *TripService
	logger *zap.SugaredLogger
}

func NewHandler(db *sqlx.DB, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: NewTripService(db, logger), logger: logger}
}

type tripDTO struct {
	ID            string    `json:"id"`
	Date          string    `json:"date"`
	CallReference string    `json:"callReference"`
	Location      string    `json:"location"`
	Plate         *string   `json:"plate"`
	OdometerStart *float64  `json:"odometerStart"`
	OdometerEnd   *float64  `json:"odometerEnd"`
	Distance      *float64  `json:"distance"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toDTO(r *entity.TripRecord) tripDTO {
	return tripDTO{
		ID:            r.ID,
		Date:          r.Date.Format("2006-01-02"),
		CallReference: r.CallReference,
		Location:      r.Location,
		Plate:         r.Plate,
		OdometerStart: r.OdometerStart,
		OdometerEnd:   r.OdometerEnd,
		Distance:      r.Distance,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// Get handles GET /api/km: single by id, latest, CSV export, or a
// filtered list.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	table, err := tenant.Resolve(r, "", false)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()

	if id := q.Get("id"); id != "" {
		rec, err := h.svc.Get(r.Context(), table, id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, toDTO(rec))
		return
	}

	if q.Get("latest") == "true" {
		rec, err := h.svc.Latest(r.Context(), table)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if rec == nil {
			h.writeJSON(w, http.StatusOK, nil)
			return
		}
		h.writeJSON(w, http.StatusOK, toDTO(rec))
		return
	}

	filter, err := filterFromQuery(q.Get("from"), q.Get("to"), q.Get("location"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	recs, err := h.svc.List(r.Context(), table, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if q.Get("csv") == "true" {
		writeCSV(w, "registros_km.csv", recs)
		return
	}
	out := make([]tripDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// Post handles POST /api/km (create).
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	raw, fields, ok := h.readBody(w, r)
	if !ok {
		return
	}
	table, err := tenant.Resolve(r, stringField(fields, "username"), true)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req struct {
		Date          string   `json:"date"`
		CallReference string   `json:"callReference"`
		Location      string   `json:"location"`
		Plate         string   `json:"plate"`
		OdometerStart *float64 `json:"odometerStart"`
		OdometerEnd   *float64 `json:"odometerEnd"`
		Notes         string   `json:"notes"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be valid JSON"})
		return
	}
	in := CreateInput{
		CallReference: req.CallReference,
		Location:      req.Location,
		Plate:         req.Plate,
		OdometerStart: req.OdometerStart,
		OdometerEnd:   req.OdometerEnd,
		Notes:         req.Notes,
	}
	if req.Date != "" {
		d, err := parseDate(req.Date)
		if err != nil {
			h.writeError(w, err)
			return
		}
		in.Date = &d
	}
	rec, err := h.svc.Create(r.Context(), table, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

// Put handles PUT /api/km (partial update by id).
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	raw, fields, ok := h.readBody(w, r)
	if !ok {
		return
	}
	table, err := tenant.Resolve(r, stringField(fields, "username"), true)
	if err != nil {
		h.writeError(w, err)
		return
	}
	id := stringField(fields, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "field 'id' is required"})
		return
	}
	patch, err := patchFromFields(raw, fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.svc.Update(r.Context(), table, id, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toDTO(rec))
}

// Delete handles DELETE /api/km: single record by id, or the whole
// partition with ?all=true.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	table, err := tenant.Resolve(r, "", true)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if q.Get("all") == "true" {
		n, err := h.svc.DeleteAll(r.Context(), table)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"message": "records deleted", "deleted": n})
		return
	}
	id := q.Get("id")
	if id == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'id' is required"})
		return
	}
	if err := h.svc.Delete(r.Context(), table, id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "record deleted"})
}

var errBadDate = errors.New("invalid date: expected YYYY-MM-DD")

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
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

// readBody reads the request body once so the identity and the payload
// can both be taken from it.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, map[string]json.RawMessage, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read request body"})
		return nil, nil, false
	}
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be valid JSON"})
			return nil, nil, false
		}
	}
	return raw, fields, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	rawVal, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(rawVal, &s); err != nil {
		return ""
	}
	return s
}

// patchFromFields builds a Patch distinguishing absent fields from
// explicit nulls by key presence.
func patchFromFields(raw []byte, fields map[string]json.RawMessage) (Patch, error) {
	var p Patch
	var body struct {
		Date          *string  `json:"date"`
		CallReference *string  `json:"callReference"`
		Location      *string  `json:"location"`
		Plate         *string  `json:"plate"`
		OdometerStart *float64 `json:"odometerStart"`
		OdometerEnd   *float64 `json:"odometerEnd"`
		Notes         *string  `json:"notes"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return p, err
	}
	if body.Date != nil {
		d, err := parseDate(*body.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	p.CallReference = body.CallReference
	p.Location = body.Location
	p.Notes = body.Notes
	if _, ok := fields["plate"]; ok {
		p.PlateSet = true
		p.Plate = body.Plate
	}
	if _, ok := fields["odometerStart"]; ok {
		p.OdometerStartSet = true
		p.OdometerStart = body.OdometerStart
	}
	if _, ok := fields["odometerEnd"]; ok {
		p.OdometerEndSet = true
		p.OdometerEnd = body.OdometerEnd
	}
	return p, nil
}

func writeCSV(w http.ResponseWriter, filename string, recs []*entity.TripRecord) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "date", "callReference", "location", "plate",
		"odometerStart", "odometerEnd", "distance", "notes"})
	for _, r := range recs {
		plate := ""
		if r.Plate != nil {
			plate = *r.Plate
		}
		_ = cw.Write([]string{
			r.ID,
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

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrUnauthenticated):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidPlate), errors.Is(err, errBadDate):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		h.logger.Errorw("record operation failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
