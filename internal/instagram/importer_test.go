package instagram

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

const testOAuth = `{"accessToken":"tok","igBusinessId":"17890","username":"creator"}`

func fakeGraphAPI(t *testing.T, insightsStatus int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/media"):
			_, _ = w.Write([]byte(`{
				"data": [
					{"id":"m1","media_type":"REELS","timestamp":"2026-08-20T18:30:00+0000","like_count":40,"comments_count":4},
					{"id":"m2","media_type":"IMAGE","timestamp":"not-a-timestamp","like_count":1,"comments_count":0}
				]
			}`))
		case strings.HasSuffix(r.URL.Path, "/insights"):
			if insightsStatus != http.StatusOK {
				w.WriteHeader(insightsStatus)
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"name":"views","values":[{"value":1234}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSyncCreator_UpsertsMediaMetrics(t *testing.T) {
	server := fakeGraphAPI(t, http.StatusOK)
	defer server.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM public\.creator_settings`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(testOAuth)))
	// m2 has a bad timestamp, so only m1 reaches the upsert.
	mock.ExpectExec(`INSERT INTO public\.creator_posts`).
		WithArgs("ig_m1", "c1", sqlmock.AnyArg(), int64(1234), int64(44)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	imp := &Importer{BaseURL: server.URL}
	fetched, upserted, err := imp.SyncCreator(context.Background(), db, "c1", server.Client(), nil, nil)
	if err != nil {
		t.Fatalf("SyncCreator: %v", err)
	}
	if fetched != 2 || upserted != 1 {
		t.Fatalf("expected fetched=2 upserted=1 got fetched=%d upserted=%d", fetched, upserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSyncCreator_InsightsUnavailable_FallsBackToZeroViews(t *testing.T) {
	server := fakeGraphAPI(t, http.StatusForbidden)
	defer server.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM public\.creator_settings`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(testOAuth)))
	mock.ExpectExec(`INSERT INTO public\.creator_posts`).
		WithArgs("ig_m1", "c1", sqlmock.AnyArg(), int64(0), int64(44)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	imp := &Importer{BaseURL: server.URL}
	_, upserted, err := imp.SyncCreator(context.Background(), db, "c1", server.Client(), nil, nil)
	if err != nil {
		t.Fatalf("SyncCreator: %v", err)
	}
	if upserted != 1 {
		t.Fatalf("expected upserted=1 got %d", upserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestSyncCreator_NoToken_SkipsSilently(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM public\.creator_settings`).
		WithArgs("c1").
		WillReturnError(sql.ErrNoRows)

	imp := &Importer{}
	fetched, upserted, err := imp.SyncCreator(context.Background(), db, "c1", nil, nil, nil)
	if err != nil {
		t.Fatalf("expected silent skip got %v", err)
	}
	if fetched != 0 || upserted != 0 {
		t.Fatalf("expected no work got fetched=%d upserted=%d", fetched, upserted)
	}
}

func TestSyncCreator_MalformedOAuth_SkipsSilently(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM public\.creator_settings`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{not json`)))

	imp := &Importer{}
	fetched, upserted, err := imp.SyncCreator(context.Background(), db, "c1", nil, nil, nil)
	if err != nil || fetched != 0 || upserted != 0 {
		t.Fatalf("expected silent skip got fetched=%d upserted=%d err=%v", fetched, upserted, err)
	}
}

func TestSyncCreator_MediaEndpointFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM public\.creator_settings`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(testOAuth)))

	imp := &Importer{BaseURL: server.URL}
	_, _, err = imp.SyncCreator(context.Background(), db, "c1", server.Client(), nil, nil)
	if err == nil {
		t.Fatalf("expected error from media endpoint")
	}
}

func TestImporterName(t *testing.T) {
	imp := &Importer{}
	if imp.Name() != "instagram" {
		t.Fatalf("expected instagram got %q", imp.Name())
	}
}

func TestParseGraphTimestamp(t *testing.T) {
	for _, ts := range []string{"2026-08-20T18:30:00Z", "2026-08-20T18:30:00+0000", "2026-08-20T15:30:00-0300"} {
		if _, err := parseGraphTimestamp(ts); err != nil {
			t.Fatalf("parseGraphTimestamp(%q): %v", ts, err)
		}
	}
	if _, err := parseGraphTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for junk timestamp")
	}
}
