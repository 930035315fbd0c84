package trip

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestTripHandler() (*Handler, *fakeTripStore) {
	svc, store := newTestTripService()
	return &Handler{svc: svc, logger: zap.NewNop().Sugar()}, store
}

func doTrip(h *Handler, method, target, user, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Usuario", user)
	}
	w := httptest.NewRecorder()
	switch method {
	case http.MethodGet:
		h.Get(w, req)
	case http.MethodPost:
		h.Post(w, req)
	case http.MethodPut:
		h.Put(w, req)
	case http.MethodDelete:
		h.Delete(w, req)
	}
	return w
}

func TestPost_UnauthenticatedWriteRejected(t *testing.T) {
	h, store := newTestTripHandler()

	w := doTrip(h, http.MethodPost, "/api/km", "", `{"location":"Campinas"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	for table, recs := range store.partitions {
		if len(recs) != 0 {
			t.Fatalf("record leaked into %s", table)
		}
	}
}

func TestPost_IdentityFromBodyFallback(t *testing.T) {
	h, store := newTestTripHandler()

	w := doTrip(h, http.MethodPost, "/api/km", "", `{"username":"Alice","location":"Campinas"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(store.partitions["trip_records_alice"]) != 1 {
		t.Fatalf("record not in alice's partition: %v", store.partitions)
	}
}

func TestGetPost_TenantIsolation(t *testing.T) {
	h, _ := newTestTripHandler()

	w := doTrip(h, http.MethodPost, "/api/km", "alice", `{"location":"Campinas","odometerStart":100,"odometerEnd":150}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = doTrip(h, http.MethodGet, "/api/km", "alice", "")
	var aliceList []tripDTO
	if err := json.Unmarshal(w.Body.Bytes(), &aliceList); err != nil || len(aliceList) != 1 {
		t.Fatalf("alice list: %v %s", err, w.Body.String())
	}
	if aliceList[0].Distance == nil || *aliceList[0].Distance != 50 {
		t.Fatalf("distance = %v", aliceList[0].Distance)
	}

	w = doTrip(h, http.MethodGet, "/api/km", "bob", "")
	var bobList []tripDTO
	if err := json.Unmarshal(w.Body.Bytes(), &bobList); err != nil || len(bobList) != 0 {
		t.Fatalf("bob must see an empty partition: %s", w.Body.String())
	}

	w = doTrip(h, http.MethodGet, "/api/km?id="+created["id"], "bob", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("bob reading alice's record: %d", w.Code)
	}
}

func TestGet_UnauthenticatedReadUsesSharedPartition(t *testing.T) {
	h, store := newTestTripHandler()
	_ = store.EnsurePartition(t.Context(), "trip_records")

	w := doTrip(h, http.MethodGet, "/api/km", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := store.partitions["trip_records"]; !ok {
		t.Fatal("read must target the shared partition")
	}
}

func TestPut_NullsOdometerEnd(t *testing.T) {
	h, _ := newTestTripHandler()

	w := doTrip(h, http.MethodPost, "/api/km", "alice", `{"odometerStart":100,"odometerEnd":150}`)
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = doTrip(h, http.MethodPut, "/api/km", "alice", `{"id":"`+created["id"]+`","odometerEnd":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	var got tripDTO
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.OdometerEnd != nil || got.Distance != nil {
		t.Fatalf("end=%v distance=%v, want both null", got.OdometerEnd, got.Distance)
	}
	if got.OdometerStart == nil || *got.OdometerStart != 100 {
		t.Fatalf("untouched start lost: %v", got.OdometerStart)
	}
}

func TestPut_MissingID(t *testing.T) {
	h, _ := newTestTripHandler()
	w := doTrip(h, http.MethodPut, "/api/km", "alice", `{"location":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGet_Latest(t *testing.T) {
	h, _ := newTestTripHandler()

	doTrip(h, http.MethodPost, "/api/km", "alice", `{"date":"2026-03-01","location":"old"}`)
	doTrip(h, http.MethodPost, "/api/km", "alice", `{"date":"2026-03-10","location":"new"}`)

	w := doTrip(h, http.MethodGet, "/api/km?latest=true", "alice", "")
	var got tripDTO
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Location != "new" {
		t.Fatalf("latest = %q", got.Location)
	}

	w = doTrip(h, http.MethodGet, "/api/km?latest=true", "carol", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "null" {
		t.Fatalf("empty partition latest: %d %q", w.Code, w.Body.String())
	}
}

func TestGet_CSVExport(t *testing.T) {
	h, _ := newTestTripHandler()
	doTrip(h, http.MethodPost, "/api/km", "alice", `{"date":"2026-03-01","location":"Campinas","plate":"abc1d23","odometerStart":100,"odometerEnd":150}`)

	w := doTrip(h, http.MethodGet, "/api/km?csv=true", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "registros_km.csv") {
		t.Fatalf("content disposition = %q", cd)
	}
	body := w.Body.String()
	if !strings.Contains(body, "odometerStart") || !strings.Contains(body, "ABC1D23") {
		t.Fatalf("csv body:\n%s", body)
	}
}

func TestGet_DateFilter(t *testing.T) {
	h, _ := newTestTripHandler()
	doTrip(h, http.MethodPost, "/api/km", "alice", `{"date":"2026-03-01","location":"early"}`)
	doTrip(h, http.MethodPost, "/api/km", "alice", `{"date":"2026-03-20","location":"late"}`)

	w := doTrip(h, http.MethodGet, "/api/km?from=2026-03-10", "alice", "")
	var got []tripDTO
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if len(got) != 1 || got[0].Location != "late" {
		t.Fatalf("filtered list: %s", w.Body.String())
	}

	w = doTrip(h, http.MethodGet, "/api/km?from=bogus", "alice", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", w.Code)
	}
}

func TestDelete_SingleAndAll(t *testing.T) {
	h, _ := newTestTripHandler()
	w := doTrip(h, http.MethodPost, "/api/km", "alice", `{"location":"a"}`)
	var created map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	doTrip(h, http.MethodPost, "/api/km", "alice", `{"location":"b"}`)

	if w := doTrip(h, http.MethodDelete, "/api/km", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous delete: %d", w.Code)
	}
	if w := doTrip(h, http.MethodDelete, "/api/km?id="+created["id"], "alice", ""); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := doTrip(h, http.MethodDelete, "/api/km?id="+created["id"], "alice", ""); w.Code != http.StatusNotFound {
		t.Fatalf("repeat delete: %d", w.Code)
	}

	w = doTrip(h, http.MethodDelete, "/api/km?all=true", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete all: %d", w.Code)
	}
	var res map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res["deleted"] != float64(1) {
		t.Fatalf("deleted = %v", res["deleted"])
	}
}
