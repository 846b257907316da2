package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
)

func TestHealth_OK(t *testing.T) {
	h := New(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	h.Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	if out["ok"] != true {
		t.Fatalf("expected ok=true got %#v", out)
	}
}

func TestGetVocabulary_GroupsByKind(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)
	mock.ExpectQuery(`FROM public\.vocabulary_terms`).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "term", "label"}).
			AddRow("tone", "funny", "Funny").
			AddRow("tone", "serious", "Serious").
			AddRow("context", "regional", "Regional"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/vocabulary", nil)

	h.GetVocabulary(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v body=%q", err, rr.Body.String())
	}
	if out["tone"]["funny"] != "Funny" {
		t.Fatalf("expected tone/funny got %#v", out)
	}
	if len(out["context"]) != 1 {
		t.Fatalf("expected 1 context term got %#v", out["context"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestGetVocabulary_RefreshInvalidatesCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)

	mock.ExpectQuery(`FROM public\.vocabulary_terms`).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "term", "label"}).
			AddRow("tone", "funny", "Funny"))
	mock.ExpectQuery(`FROM public\.vocabulary_terms`).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "term", "label"}).
			AddRow("tone", "funny", "Funny").
			AddRow("tone", "dry", "Dry"))

	rr := httptest.NewRecorder()
	h.GetVocabulary(rr, httptest.NewRequest(http.MethodGet, "/api/vocabulary", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("first load: expected 200 got %d", rr.Code)
	}

	// Cached within TTL; hits the store again only with refresh=1.
	rr = httptest.NewRecorder()
	h.GetVocabulary(rr, httptest.NewRequest(http.MethodGet, "/api/vocabulary", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("cached load: expected 200 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.GetVocabulary(rr, httptest.NewRequest(http.MethodGet, "/api/vocabulary?refresh=1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh load: expected 200 got %d", rr.Code)
	}
	var out map[string]map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(out["tone"]) != 2 {
		t.Fatalf("expected refreshed vocabulary got %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestIngestPosts_UpsertsAndSkipsBlankRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	h := New(db)

	// Only the well-formed post reaches the database.
	mock.ExpectExec(`INSERT INTO public\.creator_posts`).
		WithArgs("ig_1", "c1", sqlmock.AnyArg(), int64(1200), int64(44)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	posted := time.Date(2026, 8, 20, 18, 30, 0, 0, time.UTC)
	body, _ := json.Marshal(map[string]any{
		"posts": []map[string]any{
			{"id": "ig_1", "postedAt": posted, "viewCount": 1200, "interactionCount": 44},
			{"id": "", "postedAt": posted, "viewCount": 5, "interactionCount": 1},
			{"id": "ig_3", "viewCount": 5, "interactionCount": 1},
		},
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/planner/posts/c1", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"creatorId": "c1"})

	h.IngestPosts(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%q", rr.Code, rr.Body.String())
	}
	var out map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if out["stored"] != 1 {
		t.Fatalf("expected stored=1 got %#v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRegisterRoutes_ResolveKnownPaths(t *testing.T) {
	h := New(nil)
	r := mux.NewRouter()
	RegisterPlannerRoutes(h, r)
	RegisterBillingRoutes(h, r)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/planner/week/c1"},
		{http.MethodPut, "/api/planner/week/c1"},
		{http.MethodPost, "/api/planner/week/c1/slots/duplicate"},
		{http.MethodDelete, "/api/planner/week/c1/slots"},
		{http.MethodPost, "/api/planner/week/c1/slots/generate"},
		{http.MethodPost, "/api/planner/week/c1/slots/s1/posted"},
		{http.MethodGet, "/api/planner/insights/c1"},
		{http.MethodGet, "/api/planner/heatmap/c1.png"},
		{http.MethodPost, "/api/planner/posts/c1"},
		{http.MethodGet, "/api/vocabulary"},
		{http.MethodGet, "/api/billing/plans"},
		{http.MethodGet, "/api/billing/subscription/creator/c1"},
		{http.MethodPost, "/api/billing/subscription/creator/c1"},
		{http.MethodPost, "/api/billing/subscription/cancel/creator/c1"},
		{http.MethodPost, "/webhook/stripe"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		var match mux.RouteMatch
		if !r.Match(req, &match) {
			t.Fatalf("expected %s %s to match a route", tc.method, tc.path)
		}
	}
}
